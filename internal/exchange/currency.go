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
	"fmt"
	"strings"

	"github.com/nullroute/nullroute/internal/apierror"
	"github.com/nullroute/nullroute/internal/solana"
)

type Network string

const NetworkSolana Network = "solana"

// Currencies the exchange settles on Solana. Tickers are lower case.
var currencyNetworks = map[string]Network{
	"sol":     NetworkSolana,
	"usdcsol": NetworkSolana,
	"usdtsol": NetworkSolana,
}

var networkValidators = map[Network]func(string) bool{
	NetworkSolana: solana.IsValidAddress,
}

func normalizeCurrency(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// NetworkFor returns the chain a currency settles on.
func NetworkFor(currency string) (Network, bool) {
	n, ok := currencyNetworks[normalizeCurrency(currency)]
	return n, ok
}

// ValidateAddress checks address against the network of currency.
func ValidateAddress(currency, address string) error {
	network, ok := NetworkFor(currency)
	if !ok {
		return apierror.NewAPIError(apierror.ErrValidation, fmt.Sprintf("unsupported currency %q", currency), nil)
	}
	if !networkValidators[network](address) {
		return apierror.NewAPIError(apierror.ErrValidation, fmt.Sprintf("address is not a valid %s address", network), nil)
	}
	return nil
}
