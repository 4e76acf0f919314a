package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/breakoutbot/internal/executor"
)

// CycleReporter exposes the most recent placement cycle outcome.
type CycleReporter interface {
	LastOutcome() (executor.Outcome, time.Time)
}

// MonitorCounter reports how many positions are being supervised.
type MonitorCounter interface {
	Active() int
}

// TradedToday reports whether the daily guard is set.
type TradedToday interface {
	Done(ctx context.Context) (bool, error)
}

// StatusHandler serves the engine's runtime status.
type StatusHandler struct {
	mode     string
	cycles   CycleReporter
	monitors MonitorCounter
	guard    TradedToday
	logger   *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, cycles CycleReporter, monitors MonitorCounter, guard TradedToday, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:     mode,
		cycles:   cycles,
		monitors: monitors,
		guard:    guard,
		logger:   logHandler(logger, "status"),
	}
}

type statusResponse struct {
	Mode           string     `json:"mode"`
	LastOutcome    string     `json:"last_outcome,omitempty"`
	LastCycleAt    *time.Time `json:"last_cycle_at,omitempty"`
	ActiveMonitors int        `json:"active_monitors"`
	TradedToday    *bool      `json:"traded_today,omitempty"`
}

// GetStatus responds with the mode, last cycle outcome, number of monitored
// positions and the daily guard state. A guard read failure leaves
// traded_today out rather than failing the request.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Mode: h.mode}

	if h.cycles != nil {
		if out, at := h.cycles.LastOutcome(); !at.IsZero() {
			resp.LastOutcome = string(out)
			resp.LastCycleAt = &at
		}
	}
	if h.monitors != nil {
		resp.ActiveMonitors = h.monitors.Active()
	}
	if h.guard != nil {
		done, err := h.guard.Done(r.Context())
		if err != nil {
			h.logger.WarnContext(r.Context(), "read daily guard failed",
				slog.String("error", err.Error()),
			)
		} else {
			resp.TradedToday = &done
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
