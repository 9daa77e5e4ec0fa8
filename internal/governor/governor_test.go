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
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nullroute/nullroute/internal/apierror"
	"github.com/nullroute/nullroute/internal/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDest    = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testDeposit = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

type call struct {
	label string
	at    time.Time
}

// fakeExchanger records calls in dispatch order. A status call for ref "gate" and a create for
// amount 42 block until release is closed.
type fakeExchanger struct {
	mu    sync.Mutex
	calls []call

	inflight    int32
	maxInflight int32

	gateStarted   chan struct{}
	createStarted chan struct{}
	release       chan struct{}
	gateCtxErr    chan error
}

func newFakeExchanger() *fakeExchanger {
	return &fakeExchanger{
		gateStarted:   make(chan struct{}, 1),
		createStarted: make(chan struct{}, 1),
		release:       make(chan struct{}),
		gateCtxErr:    make(chan error, 1),
	}
}

func (f *fakeExchanger) record(label string) func() {
	n := atomic.AddInt32(&f.inflight, 1)
	for {
		cur := atomic.LoadInt32(&f.maxInflight)
		if n <= cur || atomic.CompareAndSwapInt32(&f.maxInflight, cur, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, call{label: label, at: time.Now()})
	f.mu.Unlock()
	return func() { atomic.AddInt32(&f.inflight, -1) }
}

func (f *fakeExchanger) labels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.label)
	}
	return out
}

func (f *fakeExchanger) times() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.at)
	}
	return out
}

func (f *fakeExchanger) CreateExchange(ctx context.Context, p exchange.CreateParams) (*exchange.TransferOutcome, error) {
	defer f.record(fmt.Sprintf("create:%g", p.FromAmount))()
	switch p.FromAmount {
	case 13:
		return nil, apierror.NewAPIError(apierror.ErrIntegrity, "payout mismatch", nil)
	case 42:
		f.createStarted <- struct{}{}
		<-f.release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return &exchange.TransferOutcome{
		ExternalID:     fmt.Sprintf("ex_%g", p.FromAmount),
		DepositAddress: testDeposit,
		PayoutAddress:  p.Address,
		Status:         exchange.StatusWaiting,
	}, nil
}

func (f *fakeExchanger) GetStatus(ctx context.Context, ref string) (*exchange.StatusRecord, error) {
	defer f.record("status:" + ref)()
	switch ref {
	case "gate":
		f.gateStarted <- struct{}{}
		<-f.release
		f.gateCtxErr <- ctx.Err()
	case "boom":
		panic("exchange client blew up")
	case "bad":
		return nil, apierror.NewAPIError(apierror.ErrTransient, "upstream 503", nil)
	}
	return &exchange.StatusRecord{ExternalID: ref, Status: exchange.StatusFinished}, nil
}

func (f *fakeExchanger) EstimateFees(ctx context.Context, p exchange.FeeParams) (*exchange.FeeEstimate, error) {
	defer f.record(fmt.Sprintf("fees:%g", p.FromAmount))()
	return &exchange.FeeEstimate{SendAmount: p.FromAmount, ReceiveAmount: p.FromAmount * 0.99, Valid: true}, nil
}

func createParams(amount float64) exchange.CreateParams {
	return exchange.CreateParams{FromCurrency: "sol", ToCurrency: "sol", FromAmount: amount, Address: testDest}
}

// startGate submits the blocking status call and waits until the fake is inside it.
func startGate(t *testing.T, g *Governor, f *fakeExchanger, ctx context.Context) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		_, err := g.EnqueueGetStatus(ctx, "gate")
		errCh <- err
	}()
	select {
	case <-f.gateStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("gate call never started")
	}
	return errCh
}

func waitQueueLength(t *testing.T, g *Governor, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return g.QueueStatus().QueueLength == n
	}, 2*time.Second, time.Millisecond)
}

func waitIdle(t *testing.T, g *Governor) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := g.QueueStatus()
		return s.QueueLength == 0 && !s.Processing
	}, 5*time.Second, time.Millisecond)
}

func TestEnqueueCreateTransaction(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{TargetRate: 25})

	out, err := g.EnqueueCreateTransaction(context.Background(), createParams(1))
	require.NoError(t, err)
	assert.Equal(t, "ex_1", out.ExternalID)
	assert.Equal(t, testDeposit, out.DepositAddress)
	assert.Equal(t, testDest, out.PayoutAddress)

	waitIdle(t, g)
}

func TestRateBound(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{TargetRate: 50})
	interval := g.MinInterval()
	require.Equal(t, 20*time.Millisecond, interval)

	const n = 15
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := g.EnqueueGetStatus(context.Background(), fmt.Sprintf("ref_%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	times := f.times()
	require.Len(t, times, n)
	for i, at := range times {
		elapsed := at.Sub(start)
		// at most ceil(elapsed/interval)+1 calls by elapsed
		allowed := int((elapsed+interval-1)/interval) + 1
		assert.LessOrEqual(t, i+1, allowed, "call %d at %s", i, elapsed)
	}
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(start), time.Duration(i)*interval-time.Millisecond)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.maxInflight))
}

func TestThirtyStatusPollsTakeAtLeastTargetWindow(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{TargetRate: 25})

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := g.EnqueueGetStatus(context.Background(), fmt.Sprintf("ref_%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 1150*time.Millisecond)
	assert.Len(t, f.labels(), 30)
}

func TestPriorityOrdering(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{TargetRate: 1000})
	ctx := context.Background()

	gateErr := startGate(t, g, f, ctx)

	var wg sync.WaitGroup
	submit := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	submit(func() { _, err := g.EnqueueCreateTransaction(ctx, createParams(1)); assert.NoError(t, err) })
	waitQueueLength(t, g, 1)
	submit(func() { _, err := g.EnqueueGetStatus(ctx, "b"); assert.NoError(t, err) })
	waitQueueLength(t, g, 2)
	submit(func() { _, err := g.EnqueueCreateTransaction(ctx, createParams(3)); assert.NoError(t, err) })
	waitQueueLength(t, g, 3)

	close(f.release)
	wg.Wait()
	require.NoError(t, <-gateErr)

	assert.Equal(t, []string{"status:gate", "status:b", "create:1", "create:3"}, f.labels())
}

func TestFIFOWithinTier(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{TargetRate: 1000})
	ctx := context.Background()

	gateErr := startGate(t, g, f, ctx)

	var wg sync.WaitGroup
	for i, amount := range []float64{1, 2, 3} {
		wg.Add(1)
		go func(amount float64) {
			defer wg.Done()
			_, err := g.EnqueueEstimateFees(ctx, "sol", "sol", amount)
			assert.NoError(t, err)
		}(amount)
		waitQueueLength(t, g, i+1)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := g.EnqueueCreateTransaction(ctx, createParams(9))
		assert.NoError(t, err)
	}()
	waitQueueLength(t, g, 4)

	close(f.release)
	wg.Wait()
	require.NoError(t, <-gateErr)

	assert.Equal(t, []string{"status:gate", "fees:1", "fees:2", "fees:3", "create:9"}, f.labels())
}

func TestInsertByPriority(t *testing.T) {
	g := New(newFakeExchanger(), Config{})
	for i, p := range []int{1, 10, 5, 1, 10, 5} {
		insertByPriority(g.line, &item{id: fmt.Sprint(i), priority: p})
	}

	var got []string
	for e := g.line.Front(); e != nil; e = e.Next() {
		got = append(got, e.Value.(*item).id)
	}
	assert.Equal(t, []string{"1", "4", "2", "5", "0", "3"}, got)
}

func TestFailureIsolation(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{TargetRate: 1000})
	ctx := context.Background()

	type result struct {
		ref string
		rec *exchange.StatusRecord
		err error
	}
	refs := []string{"ok_1", "boom", "ok_2", "bad", "ok_3"}
	results := make(chan result, len(refs))
	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			rec, err := g.EnqueueGetStatus(ctx, ref)
			results <- result{ref: ref, rec: rec, err: err}
		}(ref)
	}
	wg.Wait()
	close(results)

	for r := range results {
		switch r.ref {
		case "boom":
			assert.True(t, apierror.IsCode(r.err, apierror.ErrInternalServer), "got %v", r.err)
			assert.Nil(t, r.rec)
		case "bad":
			assert.True(t, apierror.IsCode(r.err, apierror.ErrTransient), "got %v", r.err)
		default:
			require.NoError(t, r.err)
			assert.Equal(t, r.ref, r.rec.ExternalID)
		}
	}

	out, err := g.EnqueueCreateTransaction(ctx, createParams(13))
	assert.Nil(t, out)
	assert.True(t, apierror.IsCode(err, apierror.ErrIntegrity))

	out, err = g.EnqueueCreateTransaction(ctx, createParams(14))
	require.NoError(t, err)
	assert.Equal(t, "ex_14", out.ExternalID)
}

func TestInvalidInputNeverQueued(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{TargetRate: 25})
	ctx := context.Background()

	_, err := g.EnqueueEstimateFees(ctx, "sol", "sol", 0)
	assert.True(t, apierror.IsCode(err, apierror.ErrValidation))

	_, err = g.EnqueueGetStatus(ctx, "")
	assert.True(t, apierror.IsCode(err, apierror.ErrValidation))

	_, err = g.EnqueueCreateTransaction(ctx, exchange.CreateParams{FromCurrency: "sol", ToCurrency: "sol", FromAmount: 1, Address: "not-a-solana-address"})
	assert.True(t, apierror.IsCode(err, apierror.ErrValidation))

	assert.ErrorIs(t, g.Submit(ctx, nil), ErrNilTask)

	assert.Empty(t, f.labels())
	assert.Equal(t, QueueStatus{}, g.QueueStatus())
}

func TestCancelledWhileWaitingIsNotDispatched(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{TargetRate: 1000})

	gateErr := startGate(t, g, f, context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.EnqueueCreateTransaction(ctx, createParams(1))
		errCh <- err
	}()
	waitQueueLength(t, g, 1)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, g.QueueStatus().QueueLength)

	close(f.release)
	require.NoError(t, <-gateErr)
	waitIdle(t, g)

	assert.Equal(t, []string{"status:gate"}, f.labels())
}

func TestDispatchedCallSurvivesCallerCancellation(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{TargetRate: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	gateErr := startGate(t, g, f, ctx)

	cancel()
	select {
	case err := <-gateErr:
		t.Fatalf("returned before the exchange answered: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(f.release)
	assert.NoError(t, <-gateErr)
	assert.NoError(t, <-f.gateCtxErr)
	waitIdle(t, g)
}

func TestCancelledCallerReceivesInflightCreate(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{TargetRate: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		out *exchange.TransferOutcome
		err error
	}
	results := make(chan result, 1)
	go func() {
		out, err := g.EnqueueCreateTransaction(ctx, createParams(42))
		results <- result{out: out, err: err}
	}()

	select {
	case <-f.createStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("create never started")
	}
	cancel()

	select {
	case r := <-results:
		t.Fatalf("returned before the exchange answered: %v", r.err)
	case <-time.After(50 * time.Millisecond):
	}

	close(f.release)
	r := <-results
	require.NoError(t, r.err)
	assert.Equal(t, "ex_42", r.out.ExternalID)
	assert.Equal(t, testDeposit, r.out.DepositAddress)
	assert.Equal(t, []string{"create:42"}, f.labels())
	waitIdle(t, g)
}

func TestAlreadyCancelledContext(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.EnqueueGetStatus(ctx, "ref")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.labels())
}

func TestLoopStopsWhenIdleAndRestarts(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{TargetRate: 100})
	ctx := context.Background()

	_, err := g.EnqueueGetStatus(ctx, "one")
	require.NoError(t, err)
	waitIdle(t, g)

	_, err = g.EnqueueGetStatus(ctx, "two")
	require.NoError(t, err)
	waitIdle(t, g)

	assert.Equal(t, []string{"status:one", "status:two"}, f.labels())
}

func TestQueueStatusWhileBusy(t *testing.T) {
	f := newFakeExchanger()
	g := New(f, Config{TargetRate: 1000})
	ctx := context.Background()

	gateErr := startGate(t, g, f, ctx)
	done := make(chan struct{})
	go func() {
		_, _ = g.EnqueueGetStatus(ctx, "queued")
		close(done)
	}()
	waitQueueLength(t, g, 1)

	assert.Equal(t, QueueStatus{QueueLength: 1, Processing: true}, g.QueueStatus())

	close(f.release)
	<-done
	require.NoError(t, <-gateErr)
	waitIdle(t, g)
}

func TestKind(t *testing.T) {
	assert.Equal(t, 10, KindGetStatus.Priority())
	assert.Equal(t, 5, KindEstimateFees.Priority())
	assert.Equal(t, 1, KindCreateTransaction.Priority())
	assert.Equal(t, "get_status", (&GetStatusTask{}).Kind().String())
	assert.Equal(t, "unknown", Kind(0).String())
}
