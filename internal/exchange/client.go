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

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nullroute/nullroute/config"
	"github.com/nullroute/nullroute/internal/apierror"
	"github.com/nullroute/nullroute/internal/request"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout = 25 * time.Second
	DefaultFlow    = "standard"

	maxResponseBytes = 1 << 20
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Flow    string
	Retry   RetryPolicy
}

// Client talks to the exchange API. It holds no state between calls beyond its http.Client.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	flow       string
	retry      RetryPolicy
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Flow == "" {
		cfg.Flow = DefaultFlow
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		flow:       cfg.Flow,
		retry:      cfg.Retry,
		httpClient: &http.Client{},
	}
}

// NewClientFromConfig builds a client from the exchange section of the configuration.
func NewClientFromConfig(cnf config.ExchangeConfig) *Client {
	multiplier := 1.0
	if cnf.RetryMultiplier != nil {
		multiplier = *cnf.RetryMultiplier
	}
	return NewClient(Config{
		BaseURL: cnf.BaseURL,
		APIKey:  cnf.APIKey,
		Timeout: time.Duration(cnf.TimeoutSec) * time.Second,
		Flow:    cnf.Flow,
		Retry: RetryPolicy{
			MaxAttempts: cnf.MaxAttempts,
			BaseDelay:   time.Duration(cnf.RetryBaseDelayMs) * time.Millisecond,
			Multiplier:  multiplier,
		},
	})
}

type createRequest struct {
	FromCurrency string   `json:"fromCurrency"`
	ToCurrency   string   `json:"toCurrency"`
	FromAmount   *float64 `json:"fromAmount,omitempty"`
	ToAmount     *float64 `json:"toAmount,omitempty"`
	Address      string   `json:"address"`
	Flow         string   `json:"flow"`
}

type exchangeResponse struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	PayinAddress  string          `json:"payinAddress"`
	PayoutAddress string          `json:"payoutAddress"`
	FromCurrency  string          `json:"fromCurrency"`
	ToCurrency    string          `json:"toCurrency"`
	FromAmount    decimal.Decimal `json:"fromAmount"`
	ToAmount      decimal.Decimal `json:"toAmount"`
	PayinHash     string          `json:"payinHash"`
	PayoutHash    string          `json:"payoutHash"`
	UpdatedAt     string          `json:"updatedAt"`
}

type rangeResponse struct {
	FromCurrency    string              `json:"fromCurrency"`
	ToCurrency      string              `json:"toCurrency"`
	MinAmount       decimal.Decimal     `json:"minAmount"`
	MaxAmount       decimal.NullDecimal `json:"maxAmount"`
	EstimatedAmount decimal.NullDecimal `json:"estimatedAmount"`
	ToAmount        decimal.NullDecimal `json:"toAmount"`
	Rate            decimal.NullDecimal `json:"rate"`
}

// CreateExchange opens a routed transfer. Transient failures are retried per the client's
// RetryPolicy; every other failure is returned on the first occurrence.
func (c *Client) CreateExchange(ctx context.Context, p CreateParams) (*TransferOutcome, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	body := createRequest{
		FromCurrency: normalizeCurrency(p.FromCurrency),
		ToCurrency:   normalizeCurrency(p.ToCurrency),
		Address:      p.Address,
		Flow:         p.Flow,
	}
	if body.Flow == "" {
		body.Flow = c.flow
	}
	if p.FromAmount != 0 {
		body.FromAmount = &p.FromAmount
	} else {
		body.ToAmount = &p.ToAmount
	}

	var resp exchangeResponse
	attempt := 0
	operation := func() error {
		attempt++
		resp = exchangeResponse{}
		err := c.do(ctx, http.MethodPost, "/exchange", nil, body, &resp)
		if err != nil && !apierror.IsCode(err, apierror.ErrTransient) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
		}).WithError(err).Warn("exchange create failed, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.retry.fresh(), ctx), notify); err != nil {
		return nil, err
	}

	return validateCreateResponse(p, resp)
}

func validateCreateResponse(p CreateParams, resp exchangeResponse) (*TransferOutcome, error) {
	integrity := func(msg string) error {
		return apierror.NewAPIError(apierror.ErrIntegrity, msg, map[string]string{
			"external_id":      resp.ID,
			"payin_address":    resp.PayinAddress,
			"payout_address":   resp.PayoutAddress,
			"requested_payout": p.Address,
		})
	}

	if strings.TrimSpace(resp.ID) == "" {
		return nil, integrity("exchange response has no transaction id")
	}
	if err := ValidateAddress(p.FromCurrency, resp.PayinAddress); err != nil {
		return nil, integrity("exchange returned an invalid deposit address")
	}
	if resp.PayoutAddress != p.Address {
		return nil, integrity("exchange payout address does not match the requested destination")
	}

	out := &TransferOutcome{
		ExternalID:     resp.ID,
		DepositAddress: resp.PayinAddress,
		PayoutAddress:  resp.PayoutAddress,
		FromCurrency:   resp.FromCurrency,
		ToCurrency:     resp.ToCurrency,
		FromAmount:     resp.FromAmount.InexactFloat64(),
		ToAmount:       resp.ToAmount.InexactFloat64(),
		Status:         ParseStatus(resp.Status),
	}
	if out.FromCurrency == "" {
		out.FromCurrency = normalizeCurrency(p.FromCurrency)
	}
	if out.ToCurrency == "" {
		out.ToCurrency = normalizeCurrency(p.ToCurrency)
	}
	if out.Status == "" {
		out.Status = StatusWaiting
	}
	return out, nil
}

// GetStatus fetches the exchange's record for externalRef. Single attempt.
func (c *Client) GetStatus(ctx context.Context, externalRef string) (*StatusRecord, error) {
	if err := ValidateExternalRef(externalRef); err != nil {
		return nil, err
	}

	var resp exchangeResponse
	if err := c.do(ctx, http.MethodGet, "/exchange/"+url.PathEscape(externalRef), nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID != "" && resp.ID != externalRef {
		return nil, apierror.NewAPIError(apierror.ErrIntegrity, "exchange returned a record for a different transaction", map[string]string{
			"requested": externalRef,
			"returned":  resp.ID,
		})
	}

	return &StatusRecord{
		ExternalID:    externalRef,
		Status:        ParseStatus(resp.Status),
		PayinAddress:  resp.PayinAddress,
		PayoutAddress: resp.PayoutAddress,
		FromCurrency:  resp.FromCurrency,
		ToCurrency:    resp.ToCurrency,
		FromAmount:    resp.FromAmount.InexactFloat64(),
		ToAmount:      resp.ToAmount.InexactFloat64(),
		PayinHash:     resp.PayinHash,
		PayoutHash:    resp.PayoutHash,
		UpdatedAt:     resp.UpdatedAt,
	}, nil
}

// EstimateFees quotes routing p.FromAmount. Single attempt.
func (c *Client) EstimateFees(ctx context.Context, p FeeParams) (*FeeEstimate, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("fromCurrency", normalizeCurrency(p.FromCurrency))
	query.Set("toCurrency", normalizeCurrency(p.ToCurrency))
	query.Set("fromAmount", decimal.NewFromFloat(p.FromAmount).String())
	query.Set("flow", c.flow)

	var resp rangeResponse
	if err := c.do(ctx, http.MethodGet, "/exchange/range", query, nil, &resp); err != nil {
		return nil, err
	}

	return computeFeeEstimate(p, resp), nil
}

// do performs one bounded call and classifies its failure.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := request.ToJsonReq(body)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "failed to encode exchange request", err)
		}
		reader = payload
	}

	req, err := http.NewRequestWithContext(callCtx, method, u, reader)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to build exchange request", err)
	}
	req.Header.Set("Authorization", request.BearerAuth(c.apiKey))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, callCtx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.transportError(ctx, callCtx, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return apierror.NewAPIError(apierror.ErrTransient,
			fmt.Sprintf("exchange unavailable: %s", serverMessage(data, resp)), nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return apierror.NewAPIError(apierror.ErrClient, serverMessage(data, resp), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apierror.NewAPIError(apierror.ErrIntegrity, "exchange returned a malformed response", err)
	}
	return nil
}

func (c *Client) transportError(parent, callCtx context.Context, err error) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return apierror.NewAPIError(apierror.ErrTimeout,
			fmt.Sprintf("exchange did not respond within %s", c.timeout), err)
	}
	if parent.Err() != nil {
		return apierror.NewAPIError(apierror.ErrTimeout, "exchange call cancelled", parent.Err())
	}
	return apierror.NewAPIError(apierror.ErrTransient, "exchange unreachable", err)
}

// serverMessage extracts the human readable reason from an error body.
func serverMessage(data []byte, resp *http.Response) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return http.StatusText(resp.StatusCode)
}
