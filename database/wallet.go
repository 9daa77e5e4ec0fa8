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
	"errors"
	"fmt"

	"github.com/nullroute/nullroute/internal/apierror"
	"github.com/nullroute/nullroute/model"
)

// UpsertWallet records that address was seen now.
func (d Datasource) UpsertWallet(ctx context.Context, address string) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO nullroute.wallets(address, first_seen_at, last_seen_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (address) DO UPDATE SET last_seen_at = NOW()
		RETURNING address, first_seen_at, last_seen_at
	`, address).Scan(&w.Address, &w.FirstSeenAt, &w.LastSeenAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to upsert wallet", err)
	}
	return w, nil
}

func (d Datasource) GetWallet(ctx context.Context, address string) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT address, first_seen_at, last_seen_at
		FROM nullroute.wallets
		WHERE address = $1
	`, address).Scan(&w.Address, &w.FirstSeenAt, &w.LastSeenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Wallet '%s' not found", address), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrPersistence, "Failed to retrieve wallet", err)
	}
	return w, nil
}
