package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// PositionService journals managed positions. Each placed bracket order gets
// one trade record that follows the lifecycle and is archived to object
// storage on close. Every dependency is optional; with
// none configured the journal only logs.
type PositionService struct {
	trades  domain.TradeStore
	audit   domain.AuditStore
	archive domain.BlobWriter
	now     func() time.Time
	logger  *slog.Logger
}

// NewPositionService creates a PositionService. Any store may be nil.
func NewPositionService(
	trades domain.TradeStore,
	audit domain.AuditStore,
	archive domain.BlobWriter,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		trades:  trades,
		audit:   audit,
		archive: archive,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "position_service")),
	}
}

// Open records a newly placed bracket order using the values the gateway
// actually submitted.
func (s *PositionService) Open(ctx context.Context, order domain.BracketOrder) (domain.TradeRecord, error) {
	opened := order.PlacedAt
	if opened.IsZero() {
		opened = s.now().UTC()
	}
	rec := domain.TradeRecord{
		ID:           uuid.NewString(),
		OrderID:      order.OrderID,
		InstrumentID: order.InstrumentID,
		Name:         order.Name,
		Direction:    order.Direction,
		Entry:        order.Entry,
		Stop:         order.Stop,
		Target:       order.Target,
		Quantity:     order.Quantity,
		Status:       domain.PositionStatusOpen,
		OpenedAt:     opened,
	}

	if s.trades != nil {
		if err := s.trades.Create(ctx, rec); err != nil {
			return rec, fmt.Errorf("position_service: create trade %s: %w", order.OrderID, err)
		}
	}

	s.auditLog(ctx, "position_opened", map[string]any{
		"trade_id":   rec.ID,
		"order_id":   rec.OrderID,
		"instrument": rec.InstrumentID,
		"direction":  string(rec.Direction),
		"entry":      rec.Entry,
		"stop":       rec.Stop,
		"quantity":   rec.Quantity,
	})

	s.logger.InfoContext(ctx, "position opened",
		slog.String("trade_id", rec.ID),
		slog.String("order_id", rec.OrderID),
		slog.String("name", rec.Name),
		slog.Float64("entry", rec.Entry),
		slog.Int("quantity", rec.Quantity),
	)
	return rec, nil
}

// Advance persists the position's current status, stop and remaining
// quantity after a committed lifecycle transition.
func (s *PositionService) Advance(ctx context.Context, rec *domain.TradeRecord, status domain.PositionStatus, stop float64, quantity int) error {
	rec.Status = status
	rec.Stop = stop
	rec.Quantity = quantity

	if s.trades != nil {
		if err := s.trades.UpdateLevels(ctx, rec.ID, status, stop, quantity); err != nil {
			return fmt.Errorf("position_service: update trade %s: %w", rec.ID, err)
		}
	}

	s.auditLog(ctx, "position_advanced", map[string]any{
		"trade_id": rec.ID,
		"order_id": rec.OrderID,
		"status":   string(status),
		"stop":     stop,
		"quantity": quantity,
	})
	return nil
}

// Close marks the position exited and archives its final snapshot as JSON
// under journal/<date>/<order id>.json. An archive failure is logged only.
func (s *PositionService) Close(ctx context.Context, rec *domain.TradeRecord, exitPrice float64, reason domain.ExitReason) error {
	closed := s.now().UTC()
	rec.Status = domain.PositionStatusExited
	rec.ExitPrice = &exitPrice
	rec.ExitReason = reason
	rec.ClosedAt = &closed

	if s.trades != nil {
		if err := s.trades.Close(ctx, rec.ID, exitPrice, reason); err != nil {
			return fmt.Errorf("position_service: close trade %s: %w", rec.ID, err)
		}
	}

	pnl := rec.Direction.Sign() * (exitPrice - rec.Entry) * float64(rec.Quantity)

	s.auditLog(ctx, "position_closed", map[string]any{
		"trade_id":   rec.ID,
		"order_id":   rec.OrderID,
		"exit_price": exitPrice,
		"reason":     string(reason),
		"pnl":        pnl,
	})

	if s.archive != nil {
		if err := s.archiveRecord(ctx, *rec); err != nil {
			s.logger.WarnContext(ctx, "journal archive failed",
				slog.String("order_id", rec.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "position closed",
		slog.String("trade_id", rec.ID),
		slog.String("order_id", rec.OrderID),
		slog.Float64("exit_price", exitPrice),
		slog.String("reason", string(reason)),
		slog.Float64("pnl_estimate", pnl),
	)
	return nil
}

// Since returns the journal from since onward.
func (s *PositionService) Since(ctx context.Context, since time.Time) ([]domain.TradeRecord, error) {
	if s.trades == nil {
		return nil, nil
	}
	recs, err := s.trades.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("position_service: list since %s: %w", since.Format(time.RFC3339), err)
	}
	return recs, nil
}

type journalEntry struct {
	ID           string     `json:"id"`
	OrderID      string     `json:"order_id"`
	InstrumentID string     `json:"instrument_id"`
	Name         string     `json:"name"`
	Direction    string     `json:"direction"`
	Entry        float64    `json:"entry"`
	Stop         float64    `json:"stop"`
	Target       float64    `json:"target"`
	Quantity     int        `json:"quantity"`
	Status       string     `json:"status"`
	ExitPrice    *float64   `json:"exit_price,omitempty"`
	ExitReason   string     `json:"exit_reason,omitempty"`
	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

func (s *PositionService) archiveRecord(ctx context.Context, rec domain.TradeRecord) error {
	body, err := json.Marshal(journalEntry{
		ID:           rec.ID,
		OrderID:      rec.OrderID,
		InstrumentID: rec.InstrumentID,
		Name:         rec.Name,
		Direction:    string(rec.Direction),
		Entry:        rec.Entry,
		Stop:         rec.Stop,
		Target:       rec.Target,
		Quantity:     rec.Quantity,
		Status:       string(rec.Status),
		ExitPrice:    rec.ExitPrice,
		ExitReason:   string(rec.ExitReason),
		OpenedAt:     rec.OpenedAt,
		ClosedAt:     rec.ClosedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	key := fmt.Sprintf("journal/%s/%s.json", rec.OpenedAt.Format("2006-01-02"), rec.OrderID)
	return s.archive.Put(ctx, key, bytes.NewReader(body), "application/json")
}

func (s *PositionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
