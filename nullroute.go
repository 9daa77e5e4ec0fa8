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
	"embed"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/nullroute/nullroute/database"
	"github.com/nullroute/nullroute/internal/exchange"
	"github.com/nullroute/nullroute/internal/governor"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("nullroute.service")

const defaultMaxPollAttempts = 240

// Governor is the paced gateway to the exchange API.
type Governor interface {
	EnqueueCreateTransaction(ctx context.Context, p exchange.CreateParams) (*exchange.TransferOutcome, error)
	EnqueueGetStatus(ctx context.Context, externalRef string) (*exchange.StatusRecord, error)
	EnqueueEstimateFees(ctx context.Context, fromCurrency, toCurrency string, amount float64) (*exchange.FeeEstimate, error)
	QueueStatus() governor.QueueStatus
}

// RoutingMap associates transfer ids with exchange ids.
type RoutingMap interface {
	Store(ctx context.Context, internalRef, externalRef string) error
	Lookup(ctx context.Context, internalRef string) (string, bool, error)
}

// Blockchain is the subset of the Solana RPC the service relies on.
type Blockchain interface {
	IsValidPublicKey(address string) bool
	GetBalance(ctx context.Context, address string) (uint64, error)
	ConfirmTransaction(ctx context.Context, signature string) (bool, error)
}

// StatusPoller schedules deferred status checks for a transfer.
type StatusPoller interface {
	SchedulePoll(ctx context.Context, transferID string, attempt int) error
}

// Nullroute ties the governor, the routing map, the record store and the chain together.
type Nullroute struct {
	datasource      database.IDataSource
	governor        Governor
	routes          RoutingMap
	chain           Blockchain
	poller          StatusPoller
	redis           redis.UniversalClient
	maxPollAttempts int
}

// NewNullroute builds the service. chain and poller may be nil; without a chain, addresses are
// checked offline and balance checks are skipped, and without a poller no status polls are
// scheduled.
func NewNullroute(db database.IDataSource, gov Governor, routes RoutingMap, chain Blockchain, poller StatusPoller) *Nullroute {
	n := &Nullroute{
		datasource:      db,
		governor:        gov,
		routes:          routes,
		chain:           chain,
		poller:          poller,
		maxPollAttempts: defaultMaxPollAttempts,
	}
	return n
}

// WithMaxPollAttempts bounds how many status polls a transfer gets before it is flagged for
// reconciliation. Values below one keep the default.
func (n *Nullroute) WithMaxPollAttempts(attempts int) *Nullroute {
	if attempts > 0 {
		n.maxPollAttempts = attempts
	}
	return n
}

// WithRedis enables per-transfer locking in the status poll handler.
func (n *Nullroute) WithRedis(client redis.UniversalClient) *Nullroute {
	n.redis = client
	return n
}

// QueueStatus reports the governor's waiting line.
func (n *Nullroute) QueueStatus() governor.QueueStatus {
	return n.governor.QueueStatus()
}
