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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("tfr")
	assert.True(t, strings.HasPrefix(id, "tfr_"))
	assert.Len(t, id, len("tfr_")+36)
	assert.NotEqual(t, id, GenerateUUIDWithSuffix("tfr"))
}

func TestTransfer_FlagForReconciliation(t *testing.T) {
	transfer := &Transfer{TransferID: "tfr_1"}

	transfer.FlagForReconciliation("route not stored")
	assert.True(t, transfer.NeedsReconciliation)
	assert.Equal(t, "route not stored", transfer.ReconciliationReason)

	transfer.FlagForReconciliation("record not stored")
	assert.Equal(t, "route not stored; record not stored", transfer.ReconciliationReason)
}
