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

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// computeFeeEstimate derives the fee from a range quote:
//
//	fee = amount*rate - estimated
//	pct = fee / (amount*rate) * 100
//
// rate is 1 for same currency pairs. When the quote carries no rate for a cross currency pair the
// fee cannot be expressed in one unit and is reported as zero.
func computeFeeEstimate(p FeeParams, r rangeResponse) *FeeEstimate {
	amount := decimal.NewFromFloat(p.FromAmount)

	estimated := decimal.Zero
	switch {
	case r.EstimatedAmount.Valid:
		estimated = r.EstimatedAmount.Decimal
	case r.ToAmount.Valid:
		estimated = r.ToAmount.Decimal
	}

	fee := decimal.Zero
	pct := decimal.Zero
	rate, haveRate := decimal.Zero, false
	switch {
	case r.Rate.Valid && r.Rate.Decimal.IsPositive():
		rate, haveRate = r.Rate.Decimal, true
	case normalizeCurrency(p.FromCurrency) == normalizeCurrency(p.ToCurrency):
		rate, haveRate = decimal.NewFromInt(1), true
	}
	if haveRate {
		gross := amount.Mul(rate)
		fee = gross.Sub(estimated)
		if fee.IsNegative() {
			fee = decimal.Zero
		}
		if gross.IsPositive() {
			pct = fee.Div(gross).Mul(hundred)
		}
	}

	inRange := amount.GreaterThanOrEqual(r.MinAmount)
	var maxAmount *float64
	if r.MaxAmount.Valid {
		m := r.MaxAmount.Decimal.InexactFloat64()
		maxAmount = &m
		inRange = inRange && amount.LessThanOrEqual(r.MaxAmount.Decimal)
	}

	return &FeeEstimate{
		FromCurrency:  normalizeCurrency(p.FromCurrency),
		ToCurrency:    normalizeCurrency(p.ToCurrency),
		SendAmount:    p.FromAmount,
		ReceiveAmount: estimated.InexactFloat64(),
		Fee:           fee.InexactFloat64(),
		FeePercentage: pct.Round(4).InexactFloat64(),
		MinAmount:     r.MinAmount.InexactFloat64(),
		MaxAmount:     maxAmount,
		Valid:         estimated.IsPositive() && inRange,
	}
}
