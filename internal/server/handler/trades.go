package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// TradeLister reads the trade journal.
type TradeLister interface {
	Since(ctx context.Context, since time.Time) ([]domain.TradeRecord, error)
}

// TradeHandler serves the trade journal.
type TradeHandler struct {
	trades TradeLister
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler. Dates in queries are read in loc.
func NewTradeHandler(trades TradeLister, loc *time.Location, logger *slog.Logger) *TradeHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &TradeHandler{trades: trades, loc: loc, now: time.Now, logger: logHandler(logger, "trades")}
}

type tradeJSON struct {
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

type listTradesResponse struct {
	Since  time.Time   `json:"since"`
	Trades []tradeJSON `json:"trades"`
}

// ListTrades returns journal entries opened at or after ?since (RFC 3339
// or YYYY-MM-DD), defaulting to today.
// GET /api/trades
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(r, h.now(), h.loc)
	if !ok {
		writeError(w, http.StatusBadRequest, "since must be RFC 3339 or YYYY-MM-DD")
		return
	}

	recs, err := h.trades.Since(r.Context(), since)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed",
			slog.Time("since", since),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	out := make([]tradeJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, tradeJSON{
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
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Since: since, Trades: out})
}
