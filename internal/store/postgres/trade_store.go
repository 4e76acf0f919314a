package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, order_id, instrument_id, name, direction,
	entry, stop, target, quantity, status, exit_price, exit_reason,
	opened_at, closed_at`

// Create inserts a journal row for a freshly placed bracket order.
func (s *TradeStore) Create(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, order_id, instrument_id, name, direction,
			entry, stop, target, quantity, status,
			exit_price, exit_reason, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.OrderID, rec.InstrumentID, rec.Name, string(rec.Direction),
		rec.Entry, rec.Stop, rec.Target, rec.Quantity, string(rec.Status),
		rec.ExitPrice, string(rec.ExitReason), rec.OpenedAt, rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", rec.OrderID, err)
	}
	return nil
}

// UpdateLevels records a lifecycle transition: the new status, the current
// protective stop and the open quantity.
func (s *TradeStore) UpdateLevels(ctx context.Context, id string, status domain.PositionStatus, stop float64, quantity int) error {
	const query = `
		UPDATE trades
		SET status = $1, stop = $2, quantity = $3, updated_at = NOW()
		WHERE id = $4`

	tag, err := s.pool.Exec(ctx, query, string(status), stop, quantity, id)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close marks a trade exited with the observed exit price and reason.
func (s *TradeStore) Close(ctx context.Context, id string, exitPrice float64, reason domain.ExitReason) error {
	const query = `
		UPDATE trades
		SET status = $1, exit_price = $2, exit_reason = $3,
		    closed_at = NOW(), updated_at = NOW()
		WHERE id = $4`

	tag, err := s.pool.Exec(ctx, query,
		string(domain.PositionStatusExited), exitPrice, string(reason), id)
	if err != nil {
		return fmt.Errorf("postgres: close trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanTrade(scanner interface{ Scan(dest ...any) error }) (domain.TradeRecord, error) {
	var rec domain.TradeRecord
	var direction, status, reason string

	err := scanner.Scan(
		&rec.ID, &rec.OrderID, &rec.InstrumentID, &rec.Name, &direction,
		&rec.Entry, &rec.Stop, &rec.Target, &rec.Quantity, &status,
		&rec.ExitPrice, &reason, &rec.OpenedAt, &rec.ClosedAt,
	)
	if err != nil {
		return domain.TradeRecord{}, err
	}
	rec.Direction = domain.Direction(direction)
	rec.Status = domain.PositionStatus(status)
	rec.ExitReason = domain.ExitReason(reason)
	return rec, nil
}

// GetByID retrieves a single trade by its journal ID.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.TradeRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)

	rec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeRecord{}, domain.ErrNotFound
		}
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return rec, nil
}

// ListSince returns trades opened at or after since, oldest first.
func (s *TradeStore) ListSince(ctx context.Context, since time.Time) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE opened_at >= $1
		 ORDER BY opened_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var recs []domain.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return recs, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
