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
	"github.com/nullroute/nullroute"
)

type SendTransfer struct {
	WalletAddress      string                 `json:"wallet_address"`
	DestinationAddress string                 `json:"destination_address"`
	Amount             float64                `json:"amount"`
	FromCurrency       string                 `json:"from_currency"`
	ToCurrency         string                 `json:"to_currency"`
	MetaData           map[string]interface{} `json:"meta_data"`
}

type ConfirmDeposit struct {
	Signature string `json:"signature"`
}

type EstimateFees struct {
	FromCurrency string  `json:"from_currency"`
	ToCurrency   string  `json:"to_currency"`
	Amount       float64 `json:"amount"`
}

func (s *SendTransfer) ToTransferRequest() nullroute.TransferRequest {
	return nullroute.TransferRequest{
		WalletAddress:      s.WalletAddress,
		DestinationAddress: s.DestinationAddress,
		Amount:             s.Amount,
		FromCurrency:       s.FromCurrency,
		ToCurrency:         s.ToCurrency,
		MetaData:           s.MetaData,
	}
}
