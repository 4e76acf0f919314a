package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// maxAuditRows caps a History call without an explicit limit.
const maxAuditRows = 500

// AuditStore keeps the audit log in the audit_log table. The order id lives
// inside the JSONB detail and is indexed as an expression.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: marshal detail: %w", event, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, raw); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// History returns matching entries oldest first, so one order's rows read as
// its timeline.
func (s *AuditStore) History(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	query, args := historyQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: audit history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if err := json.Unmarshal(raw, &e.Detail); err != nil {
			return e, fmt.Errorf("decode detail of entry %d: %w", e.ID, err)
		}
		if id, ok := e.Detail["order_id"].(string); ok {
			e.OrderID = id
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: audit history: %w", err)
	}
	return entries, nil
}

// historyQuery renders f as SQL with positional arguments.
func historyQuery(f domain.AuditFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.OrderID != "" {
		where = append(where, "detail->>'order_id' = "+arg(f.OrderID))
	}
	if f.Event != "" {
		where = append(where, "event = "+arg(f.Event))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= "+arg(f.Since))
	}

	var b strings.Builder
	b.WriteString("SELECT id, event, detail, created_at FROM audit_log")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	limit := f.Limit
	if limit <= 0 || limit > maxAuditRows {
		limit = maxAuditRows
	}
	b.WriteString(" ORDER BY id LIMIT " + arg(limit))
	return b.String(), args
}

var _ domain.AuditStore = (*AuditStore)(nil)
