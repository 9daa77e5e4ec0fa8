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

import "strings"

// Status is the exchange's lifecycle token for a routed transfer. Unknown tokens are kept as is.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusConfirming Status = "confirming"
	StatusExchanging Status = "exchanging"
	StatusSending    Status = "sending"
	StatusVerifying  Status = "verifying"
	StatusFinished   Status = "finished"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
	StatusExpired    Status = "expired"
)

func ParseStatus(s string) Status {
	return Status(strings.ToLower(strings.TrimSpace(s)))
}

// IsTerminal reports whether no further status change is expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

// IsKnown reports whether s belongs to the documented vocabulary.
func (s Status) IsKnown() bool {
	switch s {
	case StatusWaiting, StatusConfirming, StatusExchanging, StatusSending, StatusVerifying,
		StatusFinished, StatusFailed, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
