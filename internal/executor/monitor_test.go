package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// scriptedPrices replays seq; a zero entry is an unavailable tick. Once the
// script is exhausted every call is unavailable and onExhaust runs once.
type scriptedPrices struct {
	mu        sync.Mutex
	seq       []float64
	i         int
	onExhaust func()
}

func (p *scriptedPrices) LastPrice(context.Context, string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.i >= len(p.seq) {
		if p.onExhaust != nil {
			p.onExhaust()
			p.onExhaust = nil
		}
		return 0, domain.ErrPriceUnavailable
	}
	v := p.seq[p.i]
	p.i++
	if v <= 0 {
		return 0, domain.ErrPriceUnavailable
	}
	return v, nil
}

type legCall struct {
	op    string
	qty   int
	price float64
}

// fakeLegs fails exits with exitErr on every call, or with the queued
// exitErrs one call at a time. onExit runs on each exit call.
type fakeLegs struct {
	mu         sync.Mutex
	calls      []legCall
	partialErr []error
	trailErr   []error
	exitErr    error
	exitErrs   []error
	onExit     func()
	cancelErr  error
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (l *fakeLegs) PartialBook(_ context.Context, id string, qty int) (domain.ModifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, legCall{op: "partial", qty: qty})
	return domain.ModifyResult{OrderID: id}, pop(&l.partialErr)
}

func (l *fakeLegs) TrailStop(_ context.Context, id string, stop, _ float64) (domain.ModifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, legCall{op: "trail", price: stop})
	return domain.ModifyResult{OrderID: id}, pop(&l.trailErr)
}

func (l *fakeLegs) ExitAtMarket(_ context.Context, id string, _ domain.Direction, ltp, _ float64) (domain.ModifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, legCall{op: "exit", price: ltp})
	if l.onExit != nil {
		l.onExit()
	}
	if l.exitErr != nil {
		return domain.ModifyResult{}, l.exitErr
	}
	return domain.ModifyResult{OrderID: id}, pop(&l.exitErrs)
}

func (l *fakeLegs) Cancel(_ context.Context, id string) (domain.ModifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, legCall{op: "cancel"})
	return domain.ModifyResult{OrderID: id, Leg: domain.LegEntry}, l.cancelErr
}

func (l *fakeLegs) ops() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	for i, c := range l.calls {
		out[i] = c.op
	}
	return out
}

type memJournal struct {
	mu       sync.Mutex
	advances []domain.PositionStatus
	closed   domain.ExitReason
}

func (j *memJournal) Open(_ context.Context, o domain.BracketOrder) (domain.TradeRecord, error) {
	return domain.TradeRecord{ID: "T1", OrderID: o.OrderID, Status: domain.PositionStatusOpen}, nil
}

func (j *memJournal) Advance(_ context.Context, _ *domain.TradeRecord, status domain.PositionStatus, _ float64, _ int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.advances = append(j.advances, status)
	return nil
}

func (j *memJournal) Close(_ context.Context, _ *domain.TradeRecord, _ float64, reason domain.ExitReason) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = reason
	return nil
}

type countingNotifier struct {
	mu       sync.Mutex
	notes    int
	critical []string
}

func (n *countingNotifier) Notify(context.Context, string, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes++
	return nil
}

func (n *countingNotifier) NotifyAll(_ context.Context, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.critical = append(n.critical, title)
	return nil
}

var morning = time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC)

func testOrder() domain.BracketOrder {
	return domain.BracketOrder{
		OrderID:      "OID-1",
		InstrumentID: "2885",
		Name:         "RELIANCE",
		Direction:    domain.DirectionBuy,
		Entry:        100,
		Stop:         98,
		Target:       103,
		TrailingJump: 1,
		Quantity:     10,
		PlacedAt:     morning,
	}
}

func newTestMonitor(legs *fakeLegs, prices PriceSource, j Journal, n Notifier, mutate func(*MonitorConfig)) *Monitor {
	cfg := DefaultMonitorConfig()
	cfg.PollInterval = time.Millisecond
	cfg.ExitRetryDelay = 0
	cfg.SquareOff = Clock{Hour: 9, Minute: 40}
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewMonitor(legs, prices, j, n, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = func() time.Time { return morning }
	return m
}

func TestMonitor_FullLifecycle(t *testing.T) {
	legs := &fakeLegs{}
	journal := &memJournal{}
	prices := &scriptedPrices{seq: []float64{101, 0, 102, 103, 99.9}}
	m := newTestMonitor(legs, prices, journal, nil, nil)

	err := m.Run(context.Background(), testOrder(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"partial", "trail", "exit"}, legs.ops())
	assert.Equal(t, 5, legs.calls[0].qty)
	assert.InDelta(t, 100.0, legs.calls[1].price, 1e-9)
	assert.InDelta(t, 99.9, legs.calls[2].price, 1e-9)

	assert.Equal(t, []domain.PositionStatus{domain.PositionStatusPartialDone, domain.PositionStatusPartialDone}, journal.advances)
	assert.Equal(t, domain.ExitReasonStopBreach, journal.closed)
}

func TestMonitor_FailedActionRetriedWithoutCommit(t *testing.T) {
	legs := &fakeLegs{partialErr: []error{errors.New("502"), errors.New("502")}}
	notifier := &countingNotifier{}
	prices := &scriptedPrices{seq: []float64{102, 102, 102, 97}}
	m := newTestMonitor(legs, prices, nil, notifier, nil)

	require.NoError(t, m.Run(context.Background(), testOrder(), nil))

	assert.Equal(t, []string{"partial", "partial", "partial", "exit"}, legs.ops())
	// Alerted once for the failing action, not on every tick.
	assert.Equal(t, []string{"Lifecycle action failed"}, notifier.critical)
}

func TestMonitor_SmallQuantitySkipsPartialBooking(t *testing.T) {
	legs := &fakeLegs{}
	order := testOrder()
	order.Quantity = 1
	prices := &scriptedPrices{seq: []float64{102, 97}}
	m := newTestMonitor(legs, prices, nil, nil, nil)

	require.NoError(t, m.Run(context.Background(), order, nil))
	assert.Equal(t, []string{"exit"}, legs.ops())
}

func TestMonitor_ExitFailureEscalates(t *testing.T) {
	legs := &fakeLegs{exitErr: errors.New("gateway timeout")}
	notifier := &countingNotifier{}
	prices := &scriptedPrices{seq: []float64{97}}
	m := newTestMonitor(legs, prices, nil, notifier, nil)

	err := m.Run(context.Background(), testOrder(), nil)
	assert.ErrorIs(t, err, ErrExitFailed)
	assert.Equal(t, []string{"exit", "exit", "exit"}, legs.ops())
	assert.Equal(t, []string{"EXIT FAILED"}, notifier.critical)
}

func TestMonitor_BrokerClosedEndsMonitoring(t *testing.T) {
	legs := &fakeLegs{trailErr: []error{domain.ErrOrderClosed}}
	journal := &memJournal{}
	prices := &scriptedPrices{seq: []float64{102, 103}}
	m := newTestMonitor(legs, prices, journal, nil, nil)

	require.NoError(t, m.Run(context.Background(), testOrder(), nil))
	assert.Equal(t, []string{"partial", "trail"}, legs.ops())
	assert.Equal(t, domain.ExitReasonBrokerDone, journal.closed)
}

func TestMonitor_SquareOff(t *testing.T) {
	legs := &fakeLegs{}
	journal := &memJournal{}
	prices := &scriptedPrices{seq: []float64{101}}
	m := newTestMonitor(legs, prices, journal, nil, nil)
	m.now = func() time.Time { return morning.Add(12 * time.Hour) }

	require.NoError(t, m.Run(context.Background(), testOrder(), nil))
	assert.Equal(t, []string{"exit"}, legs.ops())
	assert.InDelta(t, 101.0, legs.calls[0].price, 1e-9)
	assert.Equal(t, domain.ExitReasonSquareOff, journal.closed)
}

func TestMonitor_ShutdownFlattens(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	legs := &fakeLegs{}
	journal := &memJournal{}
	prices := &scriptedPrices{seq: []float64{101}, onExhaust: cancel}
	m := newTestMonitor(legs, prices, journal, nil, nil)

	require.NoError(t, m.Run(ctx, testOrder(), nil))
	assert.Equal(t, []string{"exit"}, legs.ops())
	// Last observed price is used for the exit trigger.
	assert.InDelta(t, 101.0, legs.calls[0].price, 1e-9)
	assert.Equal(t, domain.ExitReasonShutdown, journal.closed)
}

func TestMonitor_ShutdownLeavesLegsWhenConfigured(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	legs := &fakeLegs{}
	notifier := &countingNotifier{}
	prices := &scriptedPrices{seq: []float64{101}, onExhaust: cancel}
	m := newTestMonitor(legs, prices, nil, notifier, func(c *MonitorConfig) { c.ExitOnShutdown = false })

	require.NoError(t, m.Run(ctx, testOrder(), nil))
	assert.Empty(t, legs.ops())
	assert.Equal(t, []string{"Monitoring stopped"}, notifier.critical)
}

func TestMonitor_ShutdownDuringExitRetryCompletesExit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	legs := &fakeLegs{exitErrs: []error{errors.New("gateway timeout")}, onExit: cancel}
	journal := &memJournal{}
	notifier := &countingNotifier{}
	prices := &scriptedPrices{seq: []float64{97}}
	m := newTestMonitor(legs, prices, journal, notifier, func(c *MonitorConfig) {
		c.ExitRetryDelay = 20 * time.Millisecond
	})

	err := m.Run(ctx, testOrder(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"exit", "exit"}, legs.ops())
	assert.Equal(t, domain.ExitReasonStopBreach, journal.closed)
	assert.Empty(t, notifier.critical)
}

func TestMonitor_PermanentExitErrorNotRetried(t *testing.T) {
	legs := &fakeLegs{exitErr: domain.ErrBrokerRejected}
	notifier := &countingNotifier{}
	prices := &scriptedPrices{seq: []float64{97}}
	m := newTestMonitor(legs, prices, nil, notifier, nil)

	err := m.Run(context.Background(), testOrder(), nil)
	assert.ErrorIs(t, err, ErrExitFailed)
	assert.Equal(t, []string{"exit"}, legs.ops())
	assert.Equal(t, []string{"EXIT FAILED"}, notifier.critical)
}

func TestMonitor_RequestedExitWithdrawsUnfilledBracket(t *testing.T) {
	legs := &fakeLegs{}
	journal := &memJournal{}
	exits := make(chan domain.ExitReason, 1)
	prices := &scriptedPrices{seq: []float64{101}, onExhaust: func() { exits <- domain.ExitReasonCancelled }}
	m := newTestMonitor(legs, prices, journal, nil, nil)

	require.NoError(t, m.Run(context.Background(), testOrder(), exits))
	assert.Equal(t, []string{"cancel"}, legs.ops())
	assert.Equal(t, domain.ExitReasonCancelled, journal.closed)
}

func TestMonitor_RequestedExitAfterFillExitsAtMarket(t *testing.T) {
	legs := &fakeLegs{cancelErr: domain.ErrOrderClosed}
	journal := &memJournal{}
	exits := make(chan domain.ExitReason, 1)
	exits <- domain.ExitReasonCancelled
	prices := &scriptedPrices{seq: []float64{101.5}}
	m := newTestMonitor(legs, prices, journal, nil, nil)

	require.NoError(t, m.Run(context.Background(), testOrder(), exits))
	assert.Equal(t, []string{"cancel", "exit"}, legs.ops())
	assert.InDelta(t, 101.5, legs.calls[1].price, 1e-9)
	assert.Equal(t, domain.ExitReasonCancelled, journal.closed)
}

type blockingRunner struct {
	started chan struct{}
}

func (r blockingRunner) Run(ctx context.Context, _ domain.BracketOrder, _ <-chan domain.ExitReason) error {
	close(r.started)
	<-ctx.Done()
	return nil
}

func TestSupervisor_WaitsForMonitors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := blockingRunner{started: make(chan struct{})}
	sup := NewSupervisor(runner, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	sup.Start(ctx, testOrder())
	sup.Start(ctx, testOrder()) // duplicate order id is ignored
	<-runner.started
	assert.Equal(t, 1, sup.Active())

	cancel()
	sup.Wait()
	assert.Equal(t, 0, sup.Active())
}

type panickyRunner struct{}

func (panickyRunner) Run(context.Context, domain.BracketOrder, <-chan domain.ExitReason) error {
	panic("nil map")
}

func TestSupervisor_RecoversPanic(t *testing.T) {
	notifier := &countingNotifier{}
	sup := NewSupervisor(panickyRunner{}, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	sup.Start(context.Background(), testOrder())
	sup.Wait()
	assert.Equal(t, []string{"Monitor crashed"}, notifier.critical)
}

// exitRecorder blocks until an exit is requested and reports its reason.
type exitRecorder struct {
	started chan struct{}
	got     chan domain.ExitReason
}

func (r exitRecorder) Run(ctx context.Context, _ domain.BracketOrder, exits <-chan domain.ExitReason) error {
	close(r.started)
	select {
	case reason := <-exits:
		r.got <- reason
	case <-ctx.Done():
	}
	return nil
}

func TestSupervisor_RequestExit(t *testing.T) {
	runner := exitRecorder{started: make(chan struct{}), got: make(chan domain.ExitReason, 1)}
	sup := NewSupervisor(runner, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	sup.Start(context.Background(), testOrder())
	<-runner.started

	positions := sup.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "OID-1", positions[0].OrderID)

	assert.ErrorIs(t, sup.RequestExit("OID-404", domain.ExitReasonCancelled), domain.ErrNotFound)
	require.NoError(t, sup.RequestExit("OID-1", domain.ExitReasonCancelled))
	assert.Equal(t, domain.ExitReasonCancelled, <-runner.got)

	sup.Wait()
	assert.Empty(t, sup.Positions())
	assert.ErrorIs(t, sup.RequestExit("OID-1", domain.ExitReasonCancelled), domain.ErrNotFound)
}
