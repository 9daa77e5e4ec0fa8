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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/nullroute/nullroute/internal/apierror"
	"github.com/nullroute/nullroute/model"
)

const transferColumns = `transfer_id, wallet_address, destination_address, from_currency, to_currency, amount, expected_amount,
	external_id, deposit_address, deposit_signature, status, needs_reconciliation, reconciliation_reason,
	created_at, updated_at, meta_data`

func (d Datasource) RecordTransfer(ctx context.Context, t *model.Transfer) (*model.Transfer, error) {
	ctx, span := otel.Tracer("nullroute.database").Start(ctx, "Saving transfer to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(t.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO nullroute.transfers(`+transferColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		t.TransferID, t.WalletAddress, t.DestinationAddress, t.FromCurrency, t.ToCurrency, t.Amount, t.ExpectedAmount,
		nullString(t.ExternalID), nullString(t.DepositAddress), nullString(t.DepositSignature), t.Status,
		t.NeedsReconciliation, nullString(t.ReconciliationReason), t.CreatedAt, t.UpdatedAt, metaDataJSON,
	)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to record transfer", err)
	}

	return t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransfer(row rowScanner) (*model.Transfer, error) {
	t := &model.Transfer{}
	var externalID, depositAddress, depositSignature, reason sql.NullString
	var metaDataJSON []byte

	err := row.Scan(&t.TransferID, &t.WalletAddress, &t.DestinationAddress, &t.FromCurrency, &t.ToCurrency,
		&t.Amount, &t.ExpectedAmount, &externalID, &depositAddress, &depositSignature, &t.Status,
		&t.NeedsReconciliation, &reason, &t.CreatedAt, &t.UpdatedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}

	t.ExternalID = externalID.String
	t.DepositAddress = depositAddress.String
	t.DepositSignature = depositSignature.String
	t.ReconciliationReason = reason.String

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &t.MetaData); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (d Datasource) GetTransfer(ctx context.Context, id string) (*model.Transfer, error) {
	ctx, span := otel.Tracer("nullroute.database").Start(ctx, "Fetching transfer from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+transferColumns+`
		FROM nullroute.transfers
		WHERE transfer_id = $1
	`, id)

	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transfer with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to retrieve transfer", err)
	}
	return t, nil
}

// execOne runs a single-row update and maps zero affected rows to not found.
func (d Datasource) execOne(ctx context.Context, id, action, query string, args ...interface{}) error {
	result, err := d.Conn.ExecContext(ctx, query, args...)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrPersistence, fmt.Sprintf("Failed to %s", action), err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrPersistence, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transfer with ID '%s' not found", id), nil)
	}
	return nil
}

func (d Datasource) UpdateTransferStatus(ctx context.Context, id string, status string) error {
	return d.execOne(ctx, id, "update transfer status", `
		UPDATE nullroute.transfers
		SET status = $2, updated_at = NOW()
		WHERE transfer_id = $1
	`, id, status)
}

// FlagTransferForReconciliation marks a transfer whose local record diverged from the exchange.
// Reasons accumulate.
func (d Datasource) FlagTransferForReconciliation(ctx context.Context, id string, reason string) error {
	return d.execOne(ctx, id, "flag transfer for reconciliation", `
		UPDATE nullroute.transfers
		SET needs_reconciliation = TRUE,
			reconciliation_reason = CASE
				WHEN reconciliation_reason IS NULL OR reconciliation_reason = '' THEN $2
				ELSE reconciliation_reason || '; ' || $2
			END,
			updated_at = NOW()
		WHERE transfer_id = $1
	`, id, reason)
}

func (d Datasource) RecordDepositSignature(ctx context.Context, id string, signature string) error {
	return d.execOne(ctx, id, "record deposit signature", `
		UPDATE nullroute.transfers
		SET deposit_signature = $2, updated_at = NOW()
		WHERE transfer_id = $1
	`, id, signature)
}

func (d Datasource) GetTransfersByWallet(ctx context.Context, address string, limit, offset int) ([]model.Transfer, error) {
	ctx, span := otel.Tracer("nullroute.database").Start(ctx, "Fetching wallet transfers from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM nullroute.transfers
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, address, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to retrieve transfers", err)
	}
	defer rows.Close()

	transfers := []model.Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to scan transfer", err)
		}
		transfers = append(transfers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Error occurred while iterating over transfers", err)
	}

	return transfers, nil
}
