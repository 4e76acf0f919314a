package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// AuditReader reads the broker audit log.
type AuditReader interface {
	History(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit log, typically one order's timeline.
type AuditHandler struct {
	audit  AuditReader
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler. Dates in queries are read in loc.
func NewAuditHandler(audit AuditReader, loc *time.Location, logger *slog.Logger) *AuditHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AuditHandler{audit: audit, loc: loc, now: time.Now, logger: logHandler(logger, "audit")}
}

type auditJSON struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	OrderID   string         `json:"order_id,omitempty"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAudit returns audit entries filtered by ?order_id, ?event, ?since and
// ?limit. Without order_id the window defaults to today.
// GET /api/audit
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.AuditFilter{OrderID: q.Get("order_id"), Event: q.Get("event")}

	if f.OrderID == "" || q.Get("since") != "" {
		since, ok := parseSince(r, h.now(), h.loc)
		if !ok {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339 or YYYY-MM-DD")
			return
		}
		f.Since = since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	entries, err := h.audit.History(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit history failed",
			slog.String("order_id", f.OrderID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}

	out := make([]auditJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
