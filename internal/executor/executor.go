// Package executor runs the once-per-day placement cycle and the per-position
// monitoring loops that follow it.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// SignalSource yields the day's breakout signals.
type SignalSource interface {
	Load(ctx context.Context) ([]domain.Signal, error)
}

// IndexQuoter yields the reference index last price and previous close.
type IndexQuoter interface {
	IndexQuote(ctx context.Context) (domain.IndexQuote, error)
}

// PriceSource makes a single attempt to read an instrument's last price.
type PriceSource interface {
	LastPrice(ctx context.Context, securityID string) (float64, error)
}

// Placer submits bracket orders. It is implemented by the order service.
type Placer interface {
	Place(ctx context.Context, sig domain.Signal) (domain.PlaceResult, error)
}

// LegManager modifies the legs of a live bracket order.
type LegManager interface {
	PartialBook(ctx context.Context, orderID string, newQty int) (domain.ModifyResult, error)
	TrailStop(ctx context.Context, orderID string, newStop, trailingJump float64) (domain.ModifyResult, error)
	ExitAtMarket(ctx context.Context, orderID string, dir domain.Direction, ltp, buffer float64) (domain.ModifyResult, error)
	Cancel(ctx context.Context, orderID string) (domain.ModifyResult, error)
}

// Journal records the position lifecycle. It is implemented by the position
// service.
type Journal interface {
	Open(ctx context.Context, order domain.BracketOrder) (domain.TradeRecord, error)
	Advance(ctx context.Context, rec *domain.TradeRecord, status domain.PositionStatus, stop float64, quantity int) error
	Close(ctx context.Context, rec *domain.TradeRecord, exitPrice float64, reason domain.ExitReason) error
}

// Notifier delivers operator messages. Notify is filtered by event type;
// NotifyAll always delivers and is used for critical alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
	NotifyAll(ctx context.Context, title, message string) error
}

// Notification event types.
const (
	EventCycle     = "cycle"
	EventTrade     = "trade"
	EventLifecycle = "lifecycle"
)

// notifyTimeout bounds a single notification so a slow channel never stalls
// trading.
const notifyTimeout = 15 * time.Second

// alerter wraps a Notifier so delivery failures are logged, never returned.
type alerter struct {
	n      Notifier
	logger *slog.Logger
}

func (a alerter) send(ctx context.Context, event, title, message string) {
	if a.n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := a.n.Notify(ctx, event, title, message); err != nil {
		a.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (a alerter) critical(ctx context.Context, title, message string) {
	if a.n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := a.n.NotifyAll(ctx, title, message); err != nil {
		a.logger.ErrorContext(ctx, "critical notification failed",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
	}
}
