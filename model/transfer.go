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

import "time"

// Local statuses a transfer can hold before the exchange assigns one of its own.
const (
	StatusPending      = "pending"
	StatusCreateFailed = "create_failed"
)

// Transfer is a user-initiated private transfer routed through the exchange.
type Transfer struct {
	TransferID           string                 `json:"transfer_id"`
	WalletAddress        string                 `json:"wallet_address"`
	DestinationAddress   string                 `json:"destination_address"`
	FromCurrency         string                 `json:"from_currency"`
	ToCurrency           string                 `json:"to_currency"`
	Amount               float64                `json:"amount"`
	ExpectedAmount       float64                `json:"expected_amount"`
	ExternalID           string                 `json:"external_id"`
	DepositAddress       string                 `json:"deposit_address"`
	DepositSignature     string                 `json:"deposit_signature,omitempty"`
	Status               string                 `json:"status"`
	NeedsReconciliation  bool                   `json:"needs_reconciliation"`
	ReconciliationReason string                 `json:"reconciliation_reason,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
	MetaData             map[string]interface{} `json:"meta_data,omitempty"`
}

// FlagForReconciliation marks the transfer as diverged from the exchange's view of it.
func (t *Transfer) FlagForReconciliation(reason string) {
	t.NeedsReconciliation = true
	if t.ReconciliationReason == "" {
		t.ReconciliationReason = reason
		return
	}
	t.ReconciliationReason = t.ReconciliationReason + "; " + reason
}
