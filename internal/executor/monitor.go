package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
	"github.com/alanyoungcy/breakoutbot/internal/lifecycle"
	"github.com/alanyoungcy/breakoutbot/internal/metrics"
	"github.com/alanyoungcy/breakoutbot/internal/retry"
)

// MonitorConfig tunes the per-position monitoring loop. ShutdownTimeout
// bounds every exit once it has started, including exits interrupted by
// shutdown.
type MonitorConfig struct {
	PollInterval    time.Duration
	ExitBuffer      float64
	ExitAttempts    int
	ExitRetryDelay  time.Duration
	ExitOnShutdown  bool
	ShutdownTimeout time.Duration
	SquareOff       Clock
	Location        *time.Location
	RewardMultiple  float64
}

// DefaultMonitorConfig returns the standard intraday monitoring policy.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval:    30 * time.Second,
		ExitBuffer:      1,
		ExitAttempts:    3,
		ExitRetryDelay:  2 * time.Second,
		ExitOnShutdown:  true,
		ShutdownTimeout: 20 * time.Second,
		SquareOff:       Clock{Hour: 15, Minute: 10},
		Location:        time.UTC,
		RewardMultiple:  lifecycle.DefaultRewardMultiple,
	}
}

// ErrExitFailed is returned by Monitor.Run when the position could not be
// flattened within the configured attempts.
var ErrExitFailed = errors.New("executor: exit failed")

// Monitor polls the last price of one placed bracket order, feeds the
// lifecycle state machine and executes its actions through the order
// service. State advances only after the broker accepts an action.
type Monitor struct {
	legs    LegManager
	prices  PriceSource
	journal Journal
	alert   alerter
	cfg     MonitorConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewMonitor creates a Monitor. journal and notifier may be nil.
func NewMonitor(legs LegManager, prices PriceSource, journal Journal, notifier Notifier, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ExitBuffer <= 0 {
		cfg.ExitBuffer = def.ExitBuffer
	}
	if cfg.ExitAttempts <= 0 {
		cfg.ExitAttempts = def.ExitAttempts
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	logger = logger.With(slog.String("component", "monitor"))
	return &Monitor{
		legs:    legs,
		prices:  prices,
		journal: journal,
		alert:   alerter{n: notifier, logger: logger},
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// tracked is the mutable state of one Run.
type tracked struct {
	order     domain.BracketOrder
	pos       lifecycle.Position
	rec       *domain.TradeRecord
	lastPrice float64
	// failed holds actions whose last broker attempt failed, so an operator
	// is alerted once per failing action rather than every tick.
	failed map[lifecycle.Action]bool
}

// Run manages order until it exits, the broker reports it closed, or ctx is
// done. A reason received on exits flattens the position at the next step.
// On cancellation the position is flattened with a fresh bounded context
// when ExitOnShutdown is set. It returns ErrExitFailed when an exit could
// not be executed.
func (m *Monitor) Run(ctx context.Context, order domain.BracketOrder, exits <-chan domain.ExitReason) error {
	log := m.logger.With(
		slog.String("order_id", order.OrderID),
		slog.String("name", order.Name),
	)
	t := &tracked{
		order:  order,
		pos:    lifecycle.New(order, m.cfg.RewardMultiple),
		failed: make(map[lifecycle.Action]bool),
	}
	m.openJournal(ctx, log, t)

	log.InfoContext(ctx, "monitoring started",
		slog.Float64("entry", t.pos.Entry),
		slog.Float64("stop", t.pos.Stop),
		slog.Float64("one_risk_unit", t.pos.OneRiskUnit),
		slog.Float64("target", t.pos.Target),
		slog.Int("quantity", t.pos.Quantity),
		slog.String("square_off", m.cfg.SquareOff.String()),
	)

	squareOff := m.cfg.SquareOff.On(order.PlacedAt, m.cfg.Location)
	if order.PlacedAt.IsZero() {
		squareOff = m.cfg.SquareOff.On(m.now(), m.cfg.Location)
	}

	requested := domain.ExitReasonNone
	for {
		if ctx.Err() != nil {
			return m.shutdown(ctx, log, t)
		}
		if requested == domain.ExitReasonNone {
			select {
			case requested = <-exits:
			default:
			}
		}

		obs := lifecycle.Observation{Exit: requested}
		if obs.Exit == domain.ExitReasonNone && !m.now().Before(squareOff) {
			obs.Exit = domain.ExitReasonSquareOff
		}
		price, err := m.prices.LastPrice(ctx, order.InstrumentID)
		switch {
		case err == nil:
			obs.Price = price
			t.lastPrice = price
		case ctx.Err() != nil:
			return m.shutdown(ctx, log, t)
		default:
			log.DebugContext(ctx, "price unavailable, skipping tick", slog.String("error", err.Error()))
		}

		done, err := m.step(ctx, log, t, obs)
		if done {
			return err
		}

		reason, err := m.wait(ctx, exits)
		if err != nil {
			return m.shutdown(ctx, log, t)
		}
		if reason != domain.ExitReasonNone {
			requested = reason
		}
	}
}

// wait sleeps for one poll interval. It returns early with the reason of an
// exit request, or with ctx.Err() when ctx is done.
func (m *Monitor) wait(ctx context.Context, exits <-chan domain.ExitReason) (domain.ExitReason, error) {
	timer := time.NewTimer(m.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return domain.ExitReasonNone, nil
	case reason := <-exits:
		return reason, nil
	case <-ctx.Done():
		return domain.ExitReasonNone, ctx.Err()
	}
}

// step applies one observation. done reports that monitoring is over.
func (m *Monitor) step(ctx context.Context, log *slog.Logger, t *tracked, obs lifecycle.Observation) (done bool, err error) {
	next, action := lifecycle.Step(t.pos, obs)
	switch action {
	case lifecycle.ActionNone:
		t.pos = next
		return false, nil

	case lifecycle.ActionPartialBook:
		if next.Quantity <= 0 {
			// Nothing left to scale out of a single share; keep managing it.
			log.InfoContext(ctx, "partial booking skipped, quantity too small",
				slog.Int("quantity", t.pos.Quantity),
			)
			next.Quantity = t.pos.Quantity
			m.commit(ctx, log, t, next)
			return false, nil
		}
		_, err := m.legs.PartialBook(ctx, t.order.OrderID, next.Quantity)
		if m.brokerFailed(ctx, log, t, action, err) {
			return t.pos.State == domain.PositionStatusExited, nil
		}
		m.commit(ctx, log, t, next)
		m.alert.send(ctx, EventLifecycle, "Partial booked",
			fmt.Sprintf("🔹 1R reached for <b>%s</b> at %.2f. Remaining quantity %d.", t.order.Name, obs.Price, next.Quantity))
		return false, nil

	case lifecycle.ActionTrailSL:
		_, err := m.legs.TrailStop(ctx, t.order.OrderID, next.Stop, t.order.TrailingJump)
		if m.brokerFailed(ctx, log, t, action, err) {
			return t.pos.State == domain.PositionStatusExited, nil
		}
		m.commit(ctx, log, t, next)
		m.alert.send(ctx, EventLifecycle, "Stop trailed",
			fmt.Sprintf("🔁 Target reached for <b>%s</b> at %.2f. Stop moved to %.2f.", t.order.Name, obs.Price, next.Stop))
		return false, nil

	case lifecycle.ActionExitTrade:
		return true, m.exit(ctx, log, t, next)
	}
	return false, nil
}

// brokerFailed handles a failed leg modification. It reports true when the
// caller must not commit. A broker report that the order is already closed
// ends monitoring with reason broker_closed.
func (m *Monitor) brokerFailed(ctx context.Context, log *slog.Logger, t *tracked, action lifecycle.Action, err error) bool {
	if err == nil {
		metrics.LifecycleActions.WithLabelValues(string(action), "ok").Inc()
		delete(t.failed, action)
		return false
	}
	metrics.LifecycleActions.WithLabelValues(string(action), "error").Inc()
	metrics.BrokerErrors.WithLabelValues(string(action)).Inc()

	if errors.Is(err, domain.ErrOrderClosed) {
		log.InfoContext(ctx, "broker reports order closed", slog.String("action", string(action)))
		m.finish(ctx, log, t, t.lastPrice, domain.ExitReasonBrokerDone)
		return true
	}

	log.ErrorContext(ctx, "lifecycle action failed, will retry next tick",
		slog.String("action", string(action)),
		slog.String("error", err.Error()),
	)
	if !t.failed[action] {
		t.failed[action] = true
		m.alert.critical(ctx, "Lifecycle action failed",
			fmt.Sprintf("⚠️ %s failed for <b>%s</b> (order %s): %v", action, t.order.Name, t.order.OrderID, err))
	}
	return true
}

// exit flattens the position with bounded retries. It runs on a context
// detached from ctx and bounded by ShutdownTimeout, so a shutdown arriving
// mid-exit cannot abandon the retries. An operator cancellation first tries
// to withdraw the bracket, which succeeds only while the entry is unfilled;
// otherwise the stop-loss leg is converted to a market exit.
func (m *Monitor) exit(ctx context.Context, log *slog.Logger, t *tracked, next lifecycle.Position) error {
	exitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()

	price := t.lastPrice
	if price <= 0 {
		price = t.pos.Entry
	}

	if next.ExitReason == domain.ExitReasonCancelled && m.withdraw(exitCtx, log, t, price) {
		return nil
	}

	_, err := retry.Do(exitCtx, retry.Policy{
		Attempts:  m.cfg.ExitAttempts,
		Delay:     m.cfg.ExitRetryDelay,
		Retryable: domain.Retryable,
		OnRetry: func(attempt int, err error) {
			log.WarnContext(exitCtx, "exit failed, retrying", slog.Int("attempt", attempt), slog.String("error", err.Error()))
		},
	}, func(ctx context.Context) (domain.ModifyResult, error) {
		return m.legs.ExitAtMarket(ctx, t.order.OrderID, t.order.Direction, price, m.cfg.ExitBuffer)
	})

	switch {
	case err == nil:
		metrics.LifecycleActions.WithLabelValues(string(lifecycle.ActionExitTrade), "ok").Inc()
		m.finish(exitCtx, log, t, price, next.ExitReason)
		return nil
	case errors.Is(err, domain.ErrOrderClosed):
		m.finish(exitCtx, log, t, price, domain.ExitReasonBrokerDone)
		return nil
	}

	metrics.LifecycleActions.WithLabelValues(string(lifecycle.ActionExitTrade), "error").Inc()
	metrics.BrokerErrors.WithLabelValues(string(lifecycle.ActionExitTrade)).Inc()
	log.ErrorContext(exitCtx, "exit abandoned, position left unmanaged", slog.String("error", err.Error()))
	m.alert.critical(exitCtx, "EXIT FAILED",
		fmt.Sprintf("🚨 Could not exit <b>%s</b> (order %s) after %d attempts. Manual intervention required: %v",
			t.order.Name, t.order.OrderID, m.cfg.ExitAttempts, err))
	return fmt.Errorf("%w: order %s: %w", ErrExitFailed, t.order.OrderID, err)
}

// withdraw cancels the entry leg. It reports true when the broker accepted,
// meaning the bracket never filled and there is nothing to flatten.
func (m *Monitor) withdraw(ctx context.Context, log *slog.Logger, t *tracked, price float64) bool {
	_, err := m.legs.Cancel(ctx, t.order.OrderID)
	if err != nil {
		log.InfoContext(ctx, "entry leg not cancellable, exiting at market", slog.String("error", err.Error()))
		return false
	}
	metrics.LifecycleActions.WithLabelValues(string(lifecycle.ActionExitTrade), "ok").Inc()
	m.finish(ctx, log, t, price, domain.ExitReasonCancelled)
	return true
}

// shutdown runs after ctx is done.
func (m *Monitor) shutdown(ctx context.Context, log *slog.Logger, t *tracked) error {
	if !m.cfg.ExitOnShutdown {
		log.WarnContext(ctx, "monitor stopped, bracket legs remain live at broker")
		m.alert.critical(ctx, "Monitoring stopped",
			fmt.Sprintf("⏹ Monitoring of <b>%s</b> (order %s) stopped. Stop-loss and target legs remain live at the broker.",
				t.order.Name, t.order.OrderID))
		return nil
	}

	next, action := lifecycle.Step(t.pos, lifecycle.Observation{Exit: domain.ExitReasonShutdown})
	if action != lifecycle.ActionExitTrade {
		return nil
	}
	log.InfoContext(ctx, "shutting down, flattening position")
	return m.exit(ctx, log, t, next)
}

func (m *Monitor) commit(ctx context.Context, log *slog.Logger, t *tracked, next lifecycle.Position) {
	t.pos = next
	log.InfoContext(ctx, "position advanced",
		slog.String("state", string(next.State)),
		slog.Float64("stop", next.Stop),
		slog.Int("quantity", next.Quantity),
	)
	if m.journal == nil || t.rec == nil {
		return
	}
	if err := m.journal.Advance(ctx, t.rec, next.State, next.Stop, next.Quantity); err != nil {
		log.WarnContext(ctx, "journal update failed", slog.String("error", err.Error()))
	}
}

func (m *Monitor) finish(ctx context.Context, log *slog.Logger, t *tracked, price float64, reason domain.ExitReason) {
	t.pos.State = domain.PositionStatusExited
	t.pos.ExitReason = reason

	log.InfoContext(ctx, "position exited",
		slog.String("reason", string(reason)),
		slog.Float64("price", price),
	)
	m.alert.send(ctx, EventLifecycle, "Trade exited",
		fmt.Sprintf("✅ <b>%s</b> exited (%s) near %.2f.", t.order.Name, reason, price))

	if m.journal == nil || t.rec == nil {
		return
	}
	if err := m.journal.Close(ctx, t.rec, price, reason); err != nil {
		log.WarnContext(ctx, "journal close failed", slog.String("error", err.Error()))
	}
}

func (m *Monitor) openJournal(ctx context.Context, log *slog.Logger, t *tracked) {
	if m.journal == nil {
		return
	}
	rec, err := m.journal.Open(ctx, t.order)
	if err != nil {
		log.WarnContext(ctx, "journal open failed", slog.String("error", err.Error()))
		return
	}
	t.rec = &rec
}
