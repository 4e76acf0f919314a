package domain

import (
	"context"
	"time"
)

// TradeStore persists the journal of placed bracket orders.
type TradeStore interface {
	Create(ctx context.Context, rec TradeRecord) error
	UpdateLevels(ctx context.Context, id string, status PositionStatus, stop float64, quantity int) error
	Close(ctx context.Context, id string, exitPrice float64, reason ExitReason) error
	GetByID(ctx context.Context, id string) (TradeRecord, error)
	ListSince(ctx context.Context, since time.Time) ([]TradeRecord, error)
}

// AuditEntry is one recorded broker interaction or lifecycle step.
type AuditEntry struct {
	ID        int64
	Event     string
	OrderID   string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditFilter narrows an audit history query. Zero fields match everything.
type AuditFilter struct {
	OrderID string
	Event   string
	Since   time.Time
	Limit   int
}

// AuditStore is the append-only record of what the engine asked the broker to
// do. Entries carrying an "order_id" detail can be replayed per order.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	History(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}
