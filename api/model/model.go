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

package model

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/nullroute/nullroute/internal/exchange"
	"github.com/nullroute/nullroute/internal/solana"
)

var solanaAddress = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if !solana.IsValidAddress(s) {
		return errors.New("must be a valid Solana address")
	}
	return nil
})

// optionalCurrency accepts an empty currency, which defaults to SOL downstream.
var optionalCurrency = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, ok := exchange.NetworkFor(s); !ok {
		return errors.New("unsupported currency")
	}
	return nil
})

func (s *SendTransfer) ValidateSendTransfer() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.WalletAddress, validation.Required, solanaAddress),
		validation.Field(&s.DestinationAddress, validation.Required, solanaAddress),
		validation.Field(&s.Amount, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&s.FromCurrency, optionalCurrency),
		validation.Field(&s.ToCurrency, optionalCurrency),
	)
}

func (d *ConfirmDeposit) ValidateConfirmDeposit() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Signature, validation.Required, validation.Length(64, 100)),
	)
}

func (e *EstimateFees) ValidateEstimateFees() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.Amount, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&e.FromCurrency, optionalCurrency),
		validation.Field(&e.ToCurrency, optionalCurrency),
	)
}
