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

package database

import (
	"context"

	"github.com/nullroute/nullroute/model"
)

// IDataSource is the persistence surface used by the transfer service and the routing map.
type IDataSource interface {
	transfer
	wallet
	route
}

type transfer interface {
	RecordTransfer(ctx context.Context, t *model.Transfer) (*model.Transfer, error)
	GetTransfer(ctx context.Context, id string) (*model.Transfer, error)
	UpdateTransferStatus(ctx context.Context, id string, status string) error
	FlagTransferForReconciliation(ctx context.Context, id string, reason string) error
	RecordDepositSignature(ctx context.Context, id string, signature string) error
	GetTransfersByWallet(ctx context.Context, address string, limit, offset int) ([]model.Transfer, error)
}

type wallet interface {
	UpsertWallet(ctx context.Context, address string) (*model.Wallet, error)
	GetWallet(ctx context.Context, address string) (*model.Wallet, error)
}

type route interface {
	// InsertRoute stores internalRef -> externalRef unless internalRef already has an entry.
	// inserted is false when an entry existed.
	InsertRoute(ctx context.Context, internalRef, externalRef string) (inserted bool, err error)
	GetRoute(ctx context.Context, internalRef string) (string, error)
}
