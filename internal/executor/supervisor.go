package executor

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
	"github.com/alanyoungcy/breakoutbot/internal/metrics"
)

// PositionRunner manages one placed order until it is closed. A reason
// received on exits asks the runner to flatten the position early.
type PositionRunner interface {
	Run(ctx context.Context, order domain.BracketOrder, exits <-chan domain.ExitReason) error
}

// managed is one supervised order and its exit request channel.
type managed struct {
	order domain.BracketOrder
	exits chan domain.ExitReason
}

// Supervisor owns the monitoring goroutines. Each placed order gets its own
// goroutine; Wait blocks until all of them have returned.
type Supervisor struct {
	runner PositionRunner
	alert  alerter
	logger *slog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]*managed
}

// NewSupervisor creates a Supervisor. notifier may be nil.
func NewSupervisor(runner PositionRunner, notifier Notifier, logger *slog.Logger) *Supervisor {
	logger = logger.With(slog.String("component", "supervisor"))
	return &Supervisor{
		runner: runner,
		alert:  alerter{n: notifier, logger: logger},
		logger: logger,
		active: make(map[string]*managed),
	}
}

// Start launches monitoring of order. It is a no-op when the order is
// already monitored.
func (s *Supervisor) Start(ctx context.Context, order domain.BracketOrder) {
	s.mu.Lock()
	if _, ok := s.active[order.OrderID]; ok {
		s.mu.Unlock()
		return
	}
	m := &managed{order: order, exits: make(chan domain.ExitReason, 1)}
	s.active[order.OrderID] = m
	s.mu.Unlock()

	metrics.ActivePositions.Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, order.OrderID)
			s.mu.Unlock()
			metrics.ActivePositions.Dec()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.logger.ErrorContext(ctx, "monitor panicked",
					slog.String("order_id", order.OrderID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				s.alert.critical(ctx, "Monitor crashed",
					fmt.Sprintf("🚨 Monitoring of <b>%s</b> (order %s) crashed: %v. Position is unmanaged.", order.Name, order.OrderID, r))
			}
		}()

		if err := s.runner.Run(ctx, order, m.exits); err != nil {
			s.logger.ErrorContext(ctx, "monitor ended with error",
				slog.String("order_id", order.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// RequestExit asks the monitor of orderID to flatten its position for
// reason. A second request while one is pending is absorbed. It returns
// domain.ErrNotFound when the order is not being monitored.
func (s *Supervisor) RequestExit(orderID string, reason domain.ExitReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.active[orderID]
	if !ok {
		return fmt.Errorf("executor: request exit %s: %w", orderID, domain.ErrNotFound)
	}
	select {
	case m.exits <- reason:
		s.logger.Info("exit requested",
			slog.String("order_id", orderID),
			slog.String("reason", string(reason)),
		)
	default:
	}
	return nil
}

// Positions returns the orders currently monitored, oldest first.
func (s *Supervisor) Positions() []domain.BracketOrder {
	s.mu.Lock()
	out := make([]domain.BracketOrder, 0, len(s.active))
	for _, m := range s.active {
		out = append(out, m.order)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.BracketOrder) int {
		if c := a.PlacedAt.Compare(b.PlacedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.OrderID, b.OrderID)
	})
	return out
}

// Active returns the number of running monitors.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Wait blocks until every monitor has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
