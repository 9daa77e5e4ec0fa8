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

package governor

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nullroute/nullroute/internal/apierror"
	"github.com/nullroute/nullroute/internal/exchange"
	"github.com/nullroute/nullroute/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// DefaultTargetRate stays below the exchange's 30 req/s ceiling.
const DefaultTargetRate = 25.0

var ErrNilTask = errors.New("governor: nil task")

// Exchanger is the exchange API as seen by the governor.
type Exchanger interface {
	CreateExchange(ctx context.Context, p exchange.CreateParams) (*exchange.TransferOutcome, error)
	GetStatus(ctx context.Context, externalRef string) (*exchange.StatusRecord, error)
	EstimateFees(ctx context.Context, p exchange.FeeParams) (*exchange.FeeEstimate, error)
}

type Config struct {
	// TargetRate is the maximum number of exchange calls per second.
	TargetRate float64
}

type QueueStatus struct {
	QueueLength int  `json:"queue_length"`
	Processing  bool `json:"processing"`
}

// Governor serializes and paces calls to the exchange API. Tasks wait in a priority ordered line
// and a single dispatch goroutine releases them one at a time, at most TargetRate per second.
// The goroutine exists only while the line is non-empty.
type Governor struct {
	ex          Exchanger
	limiter     *rate.Limiter
	minInterval time.Duration
	tracer      trace.Tracer

	mu         sync.Mutex
	line       *list.List
	processing bool
}

func New(ex Exchanger, cfg Config) *Governor {
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = DefaultTargetRate
	}
	return &Governor{
		ex:          ex,
		limiter:     rate.NewLimiter(rate.Limit(cfg.TargetRate), 1),
		minInterval: time.Duration(float64(time.Second) / cfg.TargetRate),
		tracer:      otel.Tracer("nullroute.governor"),
		line:        list.New(),
	}
}

// MinInterval is the smallest gap between two dispatches.
func (g *Governor) MinInterval() time.Duration {
	return g.minInterval
}

// Submit validates task, queues it and blocks until it is resolved or ctx is done. Invalid tasks
// never enter the line. On success the task's Result field is populated.
//
// A task whose ctx is done while it waits is removed from the line and never sent. Once sent, the
// call is not cancelled with ctx and Submit waits for its outcome, so a create that reached the
// exchange is always reported to the caller.
func (g *Governor) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if err := task.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	it := &item{
		id:         model.GenerateUUIDWithSuffix("wi"),
		task:       task,
		priority:   task.Kind().Priority(),
		ctx:        ctx,
		enqueuedAt: time.Now(),
		done:       make(chan error, 1),
	}
	g.enqueue(it)

	select {
	case err := <-it.done:
		return err
	case <-ctx.Done():
	}

	if g.withdraw(it) {
		return ctx.Err()
	}
	return <-it.done
}

// withdraw removes it from the line unless the dispatch loop already took it. It reports whether
// the caller may return without waiting for the outcome.
func (g *Governor) withdraw(it *item) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if it.dispatched {
		return false
	}
	if it.elem != nil {
		g.line.Remove(it.elem)
		it.elem = nil
	}
	return true
}

func (g *Governor) enqueue(it *item) {
	g.mu.Lock()
	defer g.mu.Unlock()

	it.elem = insertByPriority(g.line, it)
	if !g.processing {
		g.processing = true
		go g.run()
	}
}

// QueueStatus reports the number of waiting tasks and whether the dispatch loop is running.
func (g *Governor) QueueStatus() QueueStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return QueueStatus{QueueLength: g.line.Len(), Processing: g.processing}
}

func (g *Governor) run() {
	for {
		if !g.pending() {
			return
		}

		// Never fails: background context and burst 1.
		_ = g.limiter.Wait(context.Background())

		it := g.next()
		if it == nil {
			return
		}
		g.dispatch(it)
	}
}

// pending reports whether there is work, and marks the loop stopped when there is none.
func (g *Governor) pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.dropCancelledLocked()
	if g.line.Len() == 0 {
		g.processing = false
		return false
	}
	return true
}

// next pops the first live item, or marks the loop stopped when none is left.
func (g *Governor) next() *item {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.dropCancelledLocked()
	front := g.line.Front()
	if front == nil {
		g.processing = false
		return nil
	}
	it := g.line.Remove(front).(*item)
	it.elem = nil
	it.dispatched = true
	return it
}

// dropCancelledLocked resolves items at the head whose submitter has gone away.
func (g *Governor) dropCancelledLocked() {
	for e := g.line.Front(); e != nil; e = g.line.Front() {
		it := e.Value.(*item)
		err := it.ctx.Err()
		if err == nil {
			return
		}
		g.line.Remove(e)
		it.elem = nil
		it.resolve(err)
		logrus.WithFields(logrus.Fields{
			"work_item_id": it.id,
			"kind":         it.task.Kind().String(),
		}).Debug("dropped cancelled work item")
	}
}

func (g *Governor) dispatch(it *item) {
	kind := it.task.Kind()
	wait := time.Since(it.enqueuedAt)

	ctx, span := g.tracer.Start(context.WithoutCancel(it.ctx), "governor.dispatch", trace.WithAttributes(
		attribute.String("work_item.id", it.id),
		attribute.String("work_item.kind", kind.String()),
		attribute.Int("work_item.priority", it.priority),
		attribute.Int64("work_item.wait_ms", wait.Milliseconds()),
	))
	defer span.End()

	started := time.Now()
	err := g.execute(ctx, it)

	fields := logrus.Fields{
		"work_item_id": it.id,
		"kind":         kind.String(),
		"priority":     it.priority,
		"wait":         wait.String(),
		"duration":     time.Since(started).String(),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logrus.WithFields(fields).WithError(err).Warn("exchange call failed")
	} else {
		logrus.WithFields(fields).Debug("exchange call completed")
	}

	it.resolve(err)
}

// execute runs the task, turning a panic into an error for this item only.
func (g *Governor) execute(ctx context.Context, it *item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("exchange call panicked: %v", r), nil)
		}
	}()
	return it.task.execute(ctx, g.ex)
}

// EnqueueCreateTransaction submits a create at normal priority.
func (g *Governor) EnqueueCreateTransaction(ctx context.Context, p exchange.CreateParams) (*exchange.TransferOutcome, error) {
	task := &CreateTransactionTask{Params: p}
	if err := g.Submit(ctx, task); err != nil {
		return nil, err
	}
	return task.Result, nil
}

// EnqueueGetStatus submits a status poll at high priority.
func (g *Governor) EnqueueGetStatus(ctx context.Context, externalRef string) (*exchange.StatusRecord, error) {
	task := &GetStatusTask{ExternalRef: externalRef}
	if err := g.Submit(ctx, task); err != nil {
		return nil, err
	}
	return task.Result, nil
}

// EnqueueEstimateFees submits a fee quote at medium priority.
func (g *Governor) EnqueueEstimateFees(ctx context.Context, fromCurrency, toCurrency string, amount float64) (*exchange.FeeEstimate, error) {
	task := &EstimateFeesTask{Params: exchange.FeeParams{
		FromCurrency: fromCurrency,
		ToCurrency:   toCurrency,
		FromAmount:   amount,
	}}
	if err := g.Submit(ctx, task); err != nil {
		return nil, err
	}
	return task.Result, nil
}
