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
	"fmt"
	"math"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/nullroute/nullroute/internal/apierror"
	"github.com/nullroute/nullroute/internal/exchange"
	"github.com/nullroute/nullroute/internal/notification"
	"github.com/nullroute/nullroute/internal/solana"
	"github.com/nullroute/nullroute/model"
)

const defaultCurrency = "sol"

// TransferRequest is a user's instruction to move Amount from WalletAddress to
// DestinationAddress through the exchange.
type TransferRequest struct {
	WalletAddress      string
	DestinationAddress string
	Amount             float64
	FromCurrency       string
	ToCurrency         string
	MetaData           map[string]interface{}
}

func (r *TransferRequest) normalize() {
	r.WalletAddress = strings.TrimSpace(r.WalletAddress)
	r.DestinationAddress = strings.TrimSpace(r.DestinationAddress)
	r.FromCurrency = strings.ToLower(strings.TrimSpace(r.FromCurrency))
	r.ToCurrency = strings.ToLower(strings.TrimSpace(r.ToCurrency))
	if r.FromCurrency == "" {
		r.FromCurrency = defaultCurrency
	}
	if r.ToCurrency == "" {
		r.ToCurrency = defaultCurrency
	}
}

func (n *Nullroute) isValidAddress(address string) bool {
	if n.chain != nil {
		return n.chain.IsValidPublicKey(address)
	}
	return solana.IsValidAddress(address)
}

func (n *Nullroute) addressRule(field string) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if !n.isValidAddress(s) {
			return fmt.Errorf("invalid %s", field)
		}
		return nil
	})
}

func (n *Nullroute) validateTransferRequest(req TransferRequest) error {
	err := validation.ValidateStruct(&req,
		validation.Field(&req.WalletAddress, validation.Required, n.addressRule("wallet address")),
		validation.Field(&req.DestinationAddress, validation.Required, n.addressRule("destination address")),
		validation.Field(&req.Amount, validation.Required, validation.Min(0.0).Exclusive()),
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrValidation, err.Error(), nil)
	}
	if math.IsInf(req.Amount, 0) {
		return apierror.NewAPIError(apierror.ErrValidation, "amount must be finite", nil)
	}
	if req.WalletAddress == req.DestinationAddress {
		return apierror.NewAPIError(apierror.ErrValidation, "destination address must differ from the sending wallet", nil)
	}
	return nil
}

func (n *Nullroute) checkBalance(ctx context.Context, req TransferRequest) error {
	if n.chain == nil || req.FromCurrency != defaultCurrency {
		return nil
	}
	lamports, err := n.chain.GetBalance(ctx, req.WalletAddress)
	if err != nil {
		return err
	}
	if lamports < solana.SOLToLamports(req.Amount) {
		return apierror.NewAPIError(apierror.ErrValidation, "insufficient balance", nil)
	}
	return nil
}

// SendTransfer opens a routed transfer with the exchange and records it. Failures to persist
// after the exchange accepted the transfer do not fail the call; the returned transfer is
// flagged for reconciliation instead.
func (n *Nullroute) SendTransfer(ctx context.Context, req TransferRequest) (*model.Transfer, error) {
	ctx, span := tracer.Start(ctx, "SendTransfer")
	defer span.End()

	req.normalize()
	if err := n.validateTransferRequest(req); err != nil {
		return nil, err
	}

	if err := n.checkBalance(ctx, req); err != nil {
		return nil, err
	}

	if _, err := n.datasource.UpsertWallet(ctx, req.WalletAddress); err != nil {
		logrus.WithField("wallet_address", req.WalletAddress).WithError(err).Warn("failed to record wallet")
	}

	outcome, err := n.governor.EnqueueCreateTransaction(ctx, exchange.CreateParams{
		FromCurrency: req.FromCurrency,
		ToCurrency:   req.ToCurrency,
		FromAmount:   req.Amount,
		Address:      req.DestinationAddress,
	})
	if err != nil {
		span.RecordError(err)
		if apierror.IsCode(err, apierror.ErrIntegrity) {
			notification.NotifySecurityIncident(err, map[string]string{
				"wallet_address":      req.WalletAddress,
				"destination_address": req.DestinationAddress,
			})
		}
		return nil, err
	}

	// The exchange transaction exists from here on; its record must outlive the caller.
	ctx = context.WithoutCancel(ctx)

	status := outcome.Status.String()
	if status == "" {
		status = exchange.StatusWaiting.String()
	}
	now := time.Now().UTC()
	transfer := &model.Transfer{
		TransferID:         model.GenerateUUIDWithSuffix("tfr"),
		WalletAddress:      req.WalletAddress,
		DestinationAddress: req.DestinationAddress,
		FromCurrency:       req.FromCurrency,
		ToCurrency:         req.ToCurrency,
		Amount:             req.Amount,
		ExpectedAmount:     outcome.ToAmount,
		ExternalID:         outcome.ExternalID,
		DepositAddress:     outcome.DepositAddress,
		Status:             status,
		CreatedAt:          now,
		UpdatedAt:          now,
		MetaData:           req.MetaData,
	}

	if err := n.routes.Store(ctx, transfer.TransferID, transfer.ExternalID); err != nil {
		n.reportPersistenceFailure(transfer, "route store failed", err)
	}
	if _, err := n.datasource.RecordTransfer(ctx, transfer); err != nil {
		n.reportPersistenceFailure(transfer, "transfer record failed", err)
	}

	n.schedulePoll(ctx, transfer.TransferID, 1)

	logrus.WithFields(logrus.Fields{
		"transfer_id": transfer.TransferID,
		"external_id": transfer.ExternalID,
		"status":      transfer.Status,
	}).Info("transfer created")

	return transfer, nil
}

func (n *Nullroute) reportPersistenceFailure(t *model.Transfer, reason string, err error) {
	t.FlagForReconciliation(reason)
	notification.NotifyError(fmt.Errorf("transfer %s (external %s): %s: %w", t.TransferID, t.ExternalID, reason, err))
}

func (n *Nullroute) schedulePoll(ctx context.Context, transferID string, attempt int) {
	if n.poller == nil {
		return
	}
	if err := n.poller.SchedulePoll(ctx, transferID, attempt); err != nil {
		logrus.WithField("transfer_id", transferID).WithError(err).Warn("failed to schedule status poll")
	}
}

// GetTransferStatus asks the exchange for the current status of a transfer and stores it.
func (n *Nullroute) GetTransferStatus(ctx context.Context, transferID string) (*exchange.StatusRecord, error) {
	ctx, span := tracer.Start(ctx, "GetTransferStatus")
	defer span.End()

	externalRef, found, err := n.routes.Lookup(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("transfer with ID '%s' not found", transferID), nil)
	}

	record, err := n.governor.EnqueueGetStatus(ctx, externalRef)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	n.persistStatus(ctx, transferID, record)
	return record, nil
}

func (n *Nullroute) persistStatus(ctx context.Context, transferID string, record *exchange.StatusRecord) {
	entry := logrus.WithFields(logrus.Fields{"transfer_id": transferID, "status": record.Status})
	if !record.Status.IsKnown() {
		entry.Warn("exchange reported an unknown status")
	}

	transfer, err := n.datasource.GetTransfer(ctx, transferID)
	if err != nil {
		entry.WithError(err).Warn("could not load transfer to store status")
		return
	}

	if record.PayoutAddress != "" && record.PayoutAddress != transfer.DestinationAddress {
		reason := "exchange payout address differs from destination"
		if err := n.datasource.FlagTransferForReconciliation(ctx, transferID, reason); err != nil {
			entry.WithError(err).Error("failed to flag transfer")
		}
		notification.NotifySecurityIncident(fmt.Errorf("transfer %s: %s", transferID, reason), map[string]string{
			"transfer_id":    transferID,
			"payout_address": record.PayoutAddress,
		})
	}

	if transfer.Status == record.Status.String() {
		return
	}
	if err := n.datasource.UpdateTransferStatus(ctx, transferID, record.Status.String()); err != nil {
		entry.WithError(err).Warn("failed to store transfer status")
	}
}

// EstimateFees quotes the cost of routing amount from one currency to another.
func (n *Nullroute) EstimateFees(ctx context.Context, fromCurrency, toCurrency string, amount float64) (*exchange.FeeEstimate, error) {
	ctx, span := tracer.Start(ctx, "EstimateFees")
	defer span.End()

	if fromCurrency == "" {
		fromCurrency = defaultCurrency
	}
	if toCurrency == "" {
		toCurrency = defaultCurrency
	}
	return n.governor.EnqueueEstimateFees(ctx, fromCurrency, toCurrency, amount)
}

// ConfirmDeposit checks that signature is a confirmed transaction on chain and records it as the
// funding transaction of the transfer.
func (n *Nullroute) ConfirmDeposit(ctx context.Context, transferID, signature string) (*model.Transfer, error) {
	ctx, span := tracer.Start(ctx, "ConfirmDeposit")
	defer span.End()

	if n.chain == nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "blockchain client is not configured", nil)
	}

	transfer, err := n.datasource.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}

	confirmed, err := n.chain.ConfirmTransaction(ctx, signature)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return nil, apierror.NewAPIError(apierror.ErrClient, "deposit transaction is not confirmed yet", nil)
	}

	if err := n.datasource.RecordDepositSignature(ctx, transferID, signature); err != nil {
		return nil, err
	}
	transfer.DepositSignature = signature

	n.schedulePoll(ctx, transferID, 1)
	return transfer, nil
}

// GetTransfer returns the stored transfer.
func (n *Nullroute) GetTransfer(ctx context.Context, transferID string) (*model.Transfer, error) {
	return n.datasource.GetTransfer(ctx, transferID)
}
