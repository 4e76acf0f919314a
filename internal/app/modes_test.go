package app

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

	"github.com/alanyoungcy/breakoutbot/internal/config"
	"github.com/alanyoungcy/breakoutbot/internal/domain"
	"github.com/alanyoungcy/breakoutbot/internal/executor"
	"github.com/alanyoungcy/breakoutbot/internal/strategy"
)

type fakeSignals struct {
	sigs []domain.Signal
	err  error
}

func (f fakeSignals) Load(context.Context) ([]domain.Signal, error) { return f.sigs, f.err }

type fakeIndex struct{}

func (fakeIndex) IndexQuote(context.Context) (domain.IndexQuote, error) {
	return domain.IndexQuote{LastPrice: 22500, PrevClose: 22480}, nil
}

type acceptingPlacer struct{}

func (acceptingPlacer) Place(_ context.Context, sig domain.Signal) (domain.PlaceResult, error) {
	return domain.PlaceResult{Order: domain.BracketOrder{
		OrderID:   "OID-" + sig.Name,
		Name:      sig.Name,
		Direction: sig.Direction,
		Entry:     sig.Entry,
		Stop:      sig.Stop,
		Quantity:  4,
	}}, nil
}

// slowRunner holds each position for a short while so callers can observe
// that the mode waits for it.
type slowRunner struct {
	mu   sync.Mutex
	done []string
}

func (r *slowRunner) Run(_ context.Context, order domain.BracketOrder, _ <-chan domain.ExitReason) error {
	time.Sleep(20 * time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, order.OrderID)
	return nil
}

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testDeps(a *App, sigs executor.SignalSource, runner executor.PositionRunner) *Dependencies {
	sup := executor.NewSupervisor(runner, nil, a.logger)
	return &Dependencies{
		Location:   time.UTC,
		Guard:      executor.NewLocalGuard(time.UTC),
		Supervisor: sup,
		Orchestrator: executor.NewOrchestrator(executor.OrchestratorDeps{
			Signals:  sigs,
			Index:    fakeIndex{},
			Placer:   acceptingPlacer{},
			Gate:     strategy.DefaultGate(),
			Guard:    executor.NewLocalGuard(time.UTC),
			Monitors: sup,
		}, a.logger),
	}
}

func breakoutSignals() []domain.Signal {
	return []domain.Signal{
		{InstrumentID: "1", Name: "X", Direction: domain.DirectionBuy, Entry: 100, Stop: 98},
		{InstrumentID: "2", Name: "Y", Direction: domain.DirectionBuy, Entry: 100, Stop: 90},
	}
}

func TestOnceMode_WaitsForMonitor(t *testing.T) {
	a := testApp(t)
	runner := &slowRunner{}
	deps := testDeps(a, fakeSignals{sigs: breakoutSignals()}, runner)

	require.NoError(t, a.OnceMode(context.Background(), deps))

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"OID-X"}, runner.done)
	assert.Zero(t, deps.Supervisor.Active())
}

func TestOnceMode_ReturnsCycleError(t *testing.T) {
	a := testApp(t)
	deps := testDeps(a, fakeSignals{err: errors.New("bucket unreachable")}, &slowRunner{})

	err := a.OnceMode(context.Background(), deps)
	assert.ErrorContains(t, err, "bucket unreachable")
}

func TestTradeMode_StopsOnCancel(t *testing.T) {
	a := testApp(t)
	deps := testDeps(a, fakeSignals{sigs: breakoutSignals()}, &slowRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.TradeMode(ctx, deps) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("trade mode did not stop after cancellation")
	}
}

func TestTradeMode_RejectsBadEntryTime(t *testing.T) {
	a := testApp(t)
	a.cfg.Schedule.EntryTime = "9h31"
	deps := testDeps(a, fakeSignals{}, &slowRunner{})

	assert.Error(t, a.TradeMode(context.Background(), deps))
}
