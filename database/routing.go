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
)

func (d Datasource) InsertRoute(ctx context.Context, internalRef, externalRef string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO nullroute.routes(internal_ref, external_ref)
		VALUES ($1, $2)
		ON CONFLICT (internal_ref) DO NOTHING
	`, internalRef, externalRef)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrPersistence, "Failed to store route", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrPersistence, "Failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

func (d Datasource) GetRoute(ctx context.Context, internalRef string) (string, error) {
	var externalRef string
	err := d.Conn.QueryRowContext(ctx, `
		SELECT external_ref FROM nullroute.routes WHERE internal_ref = $1
	`, internalRef).Scan(&externalRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No route for '%s'", internalRef), nil)
		}
		return "", apierror.NewAPIError(apierror.ErrPersistence, "Failed to retrieve route", err)
	}
	return externalRef, nil
}
