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

package solana

import (
	"context"
	"fmt"
	"strings"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/nullroute/nullroute/internal/apierror"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Client answers the chain questions the transfer flow asks: balances, deposit confirmation and
// address validity.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
}

// NewClient connects to a Solana JSON-RPC endpoint.
func NewClient(endpoint string) *Client {
	return &Client{
		rpc:        rpc.New(endpoint),
		commitment: rpc.CommitmentConfirmed,
	}
}

// IsValidAddress reports whether address is a base58 encoded 32 byte public key.
func IsValidAddress(address string) bool {
	if strings.TrimSpace(address) != address || address == "" {
		return false
	}
	_, err := solanago.PublicKeyFromBase58(address)
	return err == nil
}

func (c *Client) IsValidPublicKey(address string) bool {
	return IsValidAddress(address)
}

// GetBalance returns the balance of address in lamports.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	pk, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrValidation, "invalid wallet address", err)
	}

	out, err := c.rpc.GetBalance(ctx, pk, c.commitment)
	if err != nil {
		logrus.WithFields(logrus.Fields{"address": address}).WithError(err).Warn("solana getBalance failed")
		return 0, apierror.NewAPIError(apierror.ErrTransient, "failed to fetch wallet balance", err)
	}
	return out.Value, nil
}

// ConfirmTransaction reports whether signature has reached confirmed or finalized commitment.
// A signature the cluster has not seen yet is unconfirmed, not an error. A transaction that landed
// with an execution error is a client error.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string) (bool, error) {
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrValidation, "invalid transaction signature", err)
	}

	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrTransient, "failed to fetch signature status", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return false, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return false, apierror.NewAPIError(apierror.ErrClient, fmt.Sprintf("transaction %s failed on chain", signature), nil)
	}

	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return true, nil
	default:
		return false, nil
	}
}

// LamportsToSOL converts a lamport amount to SOL.
func LamportsToSOL(lamports uint64) float64 {
	v, _ := decimal.NewFromInt(int64(lamports)).
		Div(decimal.NewFromInt(int64(solanago.LAMPORTS_PER_SOL))).
		Float64()
	return v
}

// SOLToLamports converts a SOL amount to lamports, rounding up so balance checks never
// under-count what a transfer needs.
func SOLToLamports(sol float64) uint64 {
	if sol <= 0 {
		return 0
	}
	return uint64(decimal.NewFromFloat(sol).
		Mul(decimal.NewFromInt(int64(solanago.LAMPORTS_PER_SOL))).
		Ceil().
		IntPart())
}
