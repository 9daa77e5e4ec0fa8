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

package exchange

import (
	"errors"
	"math"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/nullroute/nullroute/internal/apierror"
)

// CreateParams describes one routed transfer. Exactly one of FromAmount (send side) and ToAmount
// (receive side) is set.
type CreateParams struct {
	FromCurrency string  `json:"fromCurrency"`
	ToCurrency   string  `json:"toCurrency"`
	FromAmount   float64 `json:"fromAmount,omitempty"`
	ToAmount     float64 `json:"toAmount,omitempty"`
	Address      string  `json:"address"`
	Flow         string  `json:"flow,omitempty"`
}

// TransferOutcome is a validated create response.
type TransferOutcome struct {
	ExternalID     string  `json:"external_id"`
	DepositAddress string  `json:"deposit_address"`
	PayoutAddress  string  `json:"payout_address"`
	FromCurrency   string  `json:"from_currency"`
	ToCurrency     string  `json:"to_currency"`
	FromAmount     float64 `json:"from_amount"`
	ToAmount       float64 `json:"to_amount"`
	Status         Status  `json:"status"`
}

// StatusRecord is the exchange's current view of a routed transfer.
type StatusRecord struct {
	ExternalID    string  `json:"external_id"`
	Status        Status  `json:"status"`
	PayinAddress  string  `json:"payin_address"`
	PayoutAddress string  `json:"payout_address"`
	FromCurrency  string  `json:"from_currency"`
	ToCurrency    string  `json:"to_currency"`
	FromAmount    float64 `json:"from_amount"`
	ToAmount      float64 `json:"to_amount"`
	PayinHash     string  `json:"payin_hash,omitempty"`
	PayoutHash    string  `json:"payout_hash,omitempty"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
}

type FeeParams struct {
	FromCurrency string  `json:"fromCurrency"`
	ToCurrency   string  `json:"toCurrency"`
	FromAmount   float64 `json:"fromAmount"`
}

// FeeEstimate is the quoted cost of routing FromAmount. Fee and FeePercentage are never negative.
// MaxAmount is nil when the exchange sets no upper bound.
type FeeEstimate struct {
	FromCurrency  string   `json:"from_currency"`
	ToCurrency    string   `json:"to_currency"`
	SendAmount    float64  `json:"send_amount"`
	ReceiveAmount float64  `json:"receive_amount"`
	Fee           float64  `json:"fee"`
	FeePercentage float64  `json:"fee_percentage"`
	MinAmount     float64  `json:"min_amount"`
	MaxAmount     *float64 `json:"max_amount"`
	Valid         bool     `json:"valid"`
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

var knownCurrency = validation.By(func(value interface{}) error {
	c, _ := value.(string)
	if _, ok := NetworkFor(c); !ok {
		return errors.New("unsupported currency")
	}
	return nil
})

func validationError(err error) error {
	return apierror.NewAPIError(apierror.ErrValidation, err.Error(), err)
}

// Validate checks the params before any network call.
func (p CreateParams) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.FromCurrency, validation.Required, knownCurrency),
		validation.Field(&p.ToCurrency, validation.Required, knownCurrency),
		validation.Field(&p.Address, validation.Required),
	)
	if err != nil {
		return validationError(err)
	}

	fromSet := p.FromAmount != 0
	toSet := p.ToAmount != 0
	switch {
	case fromSet == toSet:
		return validationError(errors.New("exactly one of fromAmount and toAmount must be set"))
	case fromSet && !isPositiveFinite(p.FromAmount):
		return validationError(errors.New("fromAmount must be a positive finite number"))
	case toSet && !isPositiveFinite(p.ToAmount):
		return validationError(errors.New("toAmount must be a positive finite number"))
	}

	return ValidateAddress(p.ToCurrency, p.Address)
}

func (p FeeParams) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.FromCurrency, validation.Required, knownCurrency),
		validation.Field(&p.ToCurrency, validation.Required, knownCurrency),
	)
	if err != nil {
		return validationError(err)
	}
	if !isPositiveFinite(p.FromAmount) {
		return validationError(errors.New("amount must be a positive finite number"))
	}
	return nil
}

// ValidateExternalRef rejects refs that cannot name an exchange record.
func ValidateExternalRef(ref string) error {
	if err := validation.Validate(ref, validation.Required); err != nil {
		return validationError(errors.New("external reference is required"))
	}
	return nil
}
