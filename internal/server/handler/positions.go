package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// PositionSet lists the supervised positions and accepts exit requests.
type PositionSet interface {
	Positions() []domain.BracketOrder
	RequestExit(orderID string, reason domain.ExitReason) error
}

// PriceLookup returns the last price seen for an instrument without calling
// the broker.
type PriceLookup interface {
	CachedPrice(ctx context.Context, securityID string) (float64, time.Time, error)
}

// PositionHandler serves the live positions and lets an operator flatten
// one of them.
type PositionHandler struct {
	positions PositionSet
	prices    PriceLookup
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler. prices may be nil.
func NewPositionHandler(positions PositionSet, prices PriceLookup, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, prices: prices, logger: logHandler(logger, "positions")}
}

type positionJSON struct {
	OrderID      string     `json:"order_id"`
	InstrumentID string     `json:"instrument_id"`
	Name         string     `json:"name"`
	Direction    string     `json:"direction"`
	Entry        float64    `json:"entry"`
	Stop         float64    `json:"stop"`
	Target       float64    `json:"target"`
	Quantity     int        `json:"quantity"`
	PlacedAt     time.Time  `json:"placed_at"`
	LastPrice    *float64   `json:"last_price,omitempty"`
	PriceAt      *time.Time `json:"price_at,omitempty"`
}

// ListPositions responds with the supervised orders as submitted, each with
// the last cached price of its instrument when one is known.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	orders := h.positions.Positions()
	out := make([]positionJSON, 0, len(orders))
	for _, o := range orders {
		p := positionJSON{
			OrderID:      o.OrderID,
			InstrumentID: o.InstrumentID,
			Name:         o.Name,
			Direction:    string(o.Direction),
			Entry:        o.Entry,
			Stop:         o.Stop,
			Target:       o.Target,
			Quantity:     o.Quantity,
			PlacedAt:     o.PlacedAt,
		}
		if h.prices != nil {
			price, at, err := h.prices.CachedPrice(r.Context(), o.InstrumentID)
			if err == nil {
				p.LastPrice = &price
				p.PriceAt = &at
			}
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// ExitPosition asks the monitor of one order to flatten it. The exit runs
// asynchronously; the trade journal records the outcome.
// POST /api/positions/{id}/exit
func (h *PositionHandler) ExitPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.positions.RequestExit(id, domain.ExitReasonCancelled)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "position not monitored")
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "request exit failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "request exit failed")
		return
	}

	h.logger.InfoContext(r.Context(), "operator exit requested", slog.String("order_id", id))
	writeJSON(w, http.StatusAccepted, map[string]string{"order_id": id, "status": "exit_requested"})
}
