package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
	"github.com/alanyoungcy/breakoutbot/internal/metrics"
	"github.com/alanyoungcy/breakoutbot/internal/strategy"
)

// Outcome is the result of one orchestration cycle.
type Outcome string

const (
	OutcomeAlreadyTraded    Outcome = "already_traded"
	OutcomeNoSignals        Outcome = "no_signals"
	OutcomeNoCandidates     Outcome = "no_candidates"
	OutcomeIndexUnavailable Outcome = "index_unavailable"
	OutcomeAllFailed        Outcome = "all_failed"
	OutcomePlaced           Outcome = "placed"
	OutcomeCycleInProgress  Outcome = "cycle_in_progress"
	OutcomeError            Outcome = "error"
)

// cycleLockKey serialises cycles across processes sharing a lock manager.
const cycleLockKey = "breakoutbot:cycle"

// Monitors starts position monitoring for a placed order.
type Monitors interface {
	Start(ctx context.Context, order domain.BracketOrder)
}

// OrchestratorDeps groups the collaborators of an Orchestrator. Locks and
// Notifier are optional.
type OrchestratorDeps struct {
	Signals  SignalSource
	Index    IndexQuoter
	Placer   Placer
	Gate     strategy.Gate
	Guard    DailyGuard
	Locks    domain.LockManager
	Monitors Monitors
	Notifier Notifier
	LockTTL  time.Duration
}

// Orchestrator runs the daily placement cycle: rank the signals, gate each
// candidate against the reference index, and place the first one the broker
// accepts. At most one trade is placed per trading day.
type Orchestrator struct {
	deps   OrchestratorDeps
	alert  alerter
	mu     sync.Mutex
	logger *slog.Logger

	lastMu sync.Mutex
	last   Outcome
	lastAt time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps OrchestratorDeps, logger *slog.Logger) *Orchestrator {
	if deps.LockTTL <= 0 {
		deps.LockTTL = 10 * time.Minute
	}
	logger = logger.With(slog.String("component", "orchestrator"))
	return &Orchestrator{
		deps:   deps,
		alert:  alerter{n: deps.Notifier, logger: logger},
		logger: logger,
	}
}

// RunCycle executes one placement cycle. Expected outcomes are returned as an
// Outcome with a nil error; the error is non-nil only for infrastructure
// failures (guard, signal source), cancellation, or a recovered panic.
func (o *Orchestrator) RunCycle(ctx context.Context) (outcome Outcome, err error) {
	if !o.mu.TryLock() {
		o.logger.WarnContext(ctx, "cycle already running, skipping")
		return o.record(OutcomeCycleInProgress), nil
	}
	defer o.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "cycle panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			o.alert.critical(ctx, "Cycle crashed", fmt.Sprintf("🚨 Trade cycle crashed: %v", r))
			outcome, err = o.record(OutcomeError), fmt.Errorf("executor: cycle panic: %v", r)
		}
	}()

	if o.deps.Locks != nil {
		release, lerr := o.deps.Locks.Acquire(ctx, cycleLockKey, o.deps.LockTTL)
		if errors.Is(lerr, domain.ErrLockHeld) {
			o.logger.WarnContext(ctx, "cycle lock held by another process, skipping")
			return o.record(OutcomeCycleInProgress), nil
		}
		if lerr != nil {
			return o.record(OutcomeError), fmt.Errorf("executor: acquire cycle lock: %w", lerr)
		}
		defer release()
	}

	return o.run(ctx)
}

func (o *Orchestrator) run(ctx context.Context) (Outcome, error) {
	done, err := o.deps.Guard.Done(ctx)
	if err != nil {
		return o.record(OutcomeError), fmt.Errorf("executor: daily guard: %w", err)
	}
	if done {
		o.logger.InfoContext(ctx, "trade already executed today, skipping")
		return o.record(OutcomeAlreadyTraded), nil
	}

	signals, err := o.deps.Signals.Load(ctx)
	if err != nil {
		o.alert.send(ctx, EventCycle, "Signals unavailable", fmt.Sprintf("❌ Could not read breakout signals: %v", err))
		return o.record(OutcomeError), fmt.Errorf("executor: load signals: %w", err)
	}
	if len(signals) < strategy.MinCandidates {
		o.logger.InfoContext(ctx, "not enough signals", slog.Int("signals", len(signals)))
		o.alert.send(ctx, EventCycle, "No trade", "❌ No valid stocks for breakout today")
		return o.record(OutcomeNoSignals), nil
	}

	candidates := strategy.Rank(signals)
	if len(candidates) == 0 {
		o.logger.InfoContext(ctx, "no rankable candidates", slog.Int("signals", len(signals)))
		o.alert.send(ctx, EventCycle, "No trade", "❌ No valid stocks for breakout today")
		return o.record(OutcomeNoCandidates), nil
	}

	index, err := o.deps.Index.IndexQuote(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return o.record(OutcomeError), ctx.Err()
		}
		o.logger.ErrorContext(ctx, "index quote unavailable", slog.String("error", err.Error()))
		o.alert.send(ctx, EventCycle, "No trade", "❌ Failed to fetch Nifty quotes, skipping trade.")
		return o.record(OutcomeIndexUnavailable), nil
	}
	netChange := index.LastPrice - index.PrevClose
	indexLine := fmt.Sprintf("Nifty LTP: %.2f, Prev Close: %.2f, Net Change: %+.2f", index.LastPrice, index.PrevClose, netChange)

	for _, c := range candidates {
		log := o.logger.With(
			slog.Int("attempt", c.Rank),
			slog.String("name", c.Name),
			slog.String("direction", string(c.Direction)),
			slog.Float64("sl_percent", c.SLPercent),
		)

		if !o.deps.Gate.Admit(c.Direction, index.LastPrice, index.PrevClose) {
			metrics.GateRejections.WithLabelValues(string(c.Direction)).Inc()
			log.InfoContext(ctx, "index gate refused candidate",
				slog.Float64("index_ltp", index.LastPrice),
				slog.Float64("index_prev_close", index.PrevClose),
			)
			o.alert.send(ctx, EventTrade, "Trade skipped",
				fmt.Sprintf("❌ Trade skipped for <b>%s</b> | Nifty filter not passed\n%s", c.Name, indexLine))
			continue
		}

		log.InfoContext(ctx, "executing candidate")
		o.alert.send(ctx, EventTrade, "Executing trade",
			fmt.Sprintf("🚀 Attempt %d: Executing trade for <b>%s</b> | %s\nEntry: %.2f\nSL: %.2f\n%s",
				c.Rank, c.Name, c.Direction, c.Entry, c.Stop, indexLine))

		res, err := o.deps.Placer.Place(ctx, c.Signal)
		if err != nil {
			return o.record(OutcomeError), fmt.Errorf("executor: place %s: %w", c.Name, err)
		}
		if !res.Placed() {
			reason := "unknown"
			if res.Rejection != nil {
				reason = res.Rejection.Error()
				metrics.Placements.WithLabelValues(string(res.Rejection.Reason)).Inc()
			}
			log.WarnContext(ctx, "candidate failed", slog.String("reason", reason))
			o.alert.send(ctx, EventTrade, "Trade failed",
				fmt.Sprintf("❌ Trade FAILED for <b>%s</b> on attempt %d (%s), trying next best stock...", c.Name, c.Rank, reason))
			continue
		}
		metrics.Placements.WithLabelValues("placed").Inc()

		if marked, err := o.deps.Guard.Mark(ctx); err != nil || !marked {
			// The order is live either way; monitoring must still start.
			log.ErrorContext(ctx, "daily guard not marked after placement",
				slog.Bool("already_marked", err == nil && !marked),
				slog.Any("error", err),
			)
		}

		order := res.Order
		log.InfoContext(ctx, "trade placed",
			slog.String("order_id", order.OrderID),
			slog.Int("quantity", order.Quantity),
		)
		o.alert.send(ctx, EventTrade, "Trade executed",
			fmt.Sprintf("✅ Trade executed successfully for <b>%s</b> on attempt %d\nOrder: %s\nEntry: %.2f | SL: %.2f | Target: %.2f | Qty: %d",
				c.Name, c.Rank, order.OrderID, order.Entry, order.Stop, order.Target, order.Quantity))

		if o.deps.Monitors != nil {
			o.deps.Monitors.Start(ctx, order)
		}
		return o.record(OutcomePlaced), nil
	}

	o.logger.ErrorContext(ctx, "all trade attempts failed", slog.Int("candidates", len(candidates)))
	o.alert.send(ctx, EventCycle, "No trade", "❌ All trade attempts failed today")
	return o.record(OutcomeAllFailed), nil
}

func (o *Orchestrator) record(out Outcome) Outcome {
	metrics.Cycles.WithLabelValues(string(out)).Inc()
	o.lastMu.Lock()
	o.last, o.lastAt = out, time.Now()
	o.lastMu.Unlock()
	return out
}

// LastOutcome returns the most recent cycle outcome and when it was
// recorded. Both are zero before the first cycle.
func (o *Orchestrator) LastOutcome() (Outcome, time.Time) {
	o.lastMu.Lock()
	defer o.lastMu.Unlock()
	return o.last, o.lastAt
}
