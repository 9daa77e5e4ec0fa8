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

package nullroute

import (
	"context"

	"github.com/nullroute/nullroute/internal/apierror"
	"github.com/nullroute/nullroute/internal/solana"
	"github.com/nullroute/nullroute/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (n *Nullroute) GetWalletBalance(ctx context.Context, address string) (*model.WalletBalance, error) {
	if !n.isValidAddress(address) {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "invalid wallet address", nil)
	}
	if n.chain == nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "blockchain client is not configured", nil)
	}

	lamports, err := n.chain.GetBalance(ctx, address)
	if err != nil {
		return nil, err
	}
	return &model.WalletBalance{
		Address:  address,
		Lamports: lamports,
		SOL:      solana.LamportsToSOL(lamports),
	}, nil
}

// GetWalletTransfers lists transfers sent from address, newest first.
func (n *Nullroute) GetWalletTransfers(ctx context.Context, address string, limit, offset int) ([]model.Transfer, error) {
	if !n.isValidAddress(address) {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "invalid wallet address", nil)
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return n.datasource.GetTransfersByWallet(ctx, address, limit, offset)
}
