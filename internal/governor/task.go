/*
Copyright 2024 Nullroute Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package governor

import (
	"context"

	"github.com/nullroute/nullroute/internal/apierror"
	"github.com/nullroute/nullroute/internal/exchange"
)

type Kind int

const (
	KindCreateTransaction Kind = iota + 1
	KindGetStatus
	KindEstimateFees
)

func (k Kind) String() string {
	switch k {
	case KindCreateTransaction:
		return "create_transaction"
	case KindGetStatus:
		return "get_status"
	case KindEstimateFees:
		return "estimate_fees"
	}
	return "unknown"
}

// Priority is fixed per kind. Higher runs first.
func (k Kind) Priority() int {
	switch k {
	case KindGetStatus:
		return 10
	case KindEstimateFees:
		return 5
	case KindCreateTransaction:
		return 1
	}
	return 0
}

// Task is a unit of work for the exchange API. The set of tasks is closed: only the types in this
// package implement it. A task's Result field is set once Submit returns nil.
type Task interface {
	Kind() Kind
	validate() error
	execute(ctx context.Context, ex Exchanger) error
}

// CreateTransactionTask opens a routed transfer.
type CreateTransactionTask struct {
	Params exchange.CreateParams
	Result *exchange.TransferOutcome
}

func (t *CreateTransactionTask) Kind() Kind { return KindCreateTransaction }

func (t *CreateTransactionTask) validate() error { return t.Params.Validate() }

func (t *CreateTransactionTask) execute(ctx context.Context, ex Exchanger) error {
	out, err := ex.CreateExchange(ctx, t.Params)
	if err != nil {
		return err
	}
	if out == nil {
		return apierror.NewAPIError(apierror.ErrIntegrity, "exchange returned no transfer", nil)
	}
	t.Result = out
	return nil
}

// GetStatusTask polls the exchange for one transfer.
type GetStatusTask struct {
	ExternalRef string
	Result      *exchange.StatusRecord
}

func (t *GetStatusTask) Kind() Kind { return KindGetStatus }

func (t *GetStatusTask) validate() error { return exchange.ValidateExternalRef(t.ExternalRef) }

func (t *GetStatusTask) execute(ctx context.Context, ex Exchanger) error {
	out, err := ex.GetStatus(ctx, t.ExternalRef)
	if err != nil {
		return err
	}
	if out == nil {
		return apierror.NewAPIError(apierror.ErrIntegrity, "exchange returned no status", nil)
	}
	t.Result = out
	return nil
}

// EstimateFeesTask quotes a transfer amount.
type EstimateFeesTask struct {
	Params exchange.FeeParams
	Result *exchange.FeeEstimate
}

func (t *EstimateFeesTask) Kind() Kind { return KindEstimateFees }

func (t *EstimateFeesTask) validate() error { return t.Params.Validate() }

func (t *EstimateFeesTask) execute(ctx context.Context, ex Exchanger) error {
	out, err := ex.EstimateFees(ctx, t.Params)
	if err != nil {
		return err
	}
	if out == nil {
		return apierror.NewAPIError(apierror.ErrIntegrity, "exchange returned no estimate", nil)
	}
	t.Result = out
	return nil
}
