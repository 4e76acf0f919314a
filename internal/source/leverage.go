package source

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// Leverage CSV column names.
const (
	ColInstrumentID = "Instrument ID"
	ColMISLeverage  = "MIS_LEVERAGE"
)

// DefaultLeverageKey is the instrument mapping carrying intraday leverage.
const DefaultLeverageKey = "uploads/nifty_mapping.csv"

// Leverage reads the per-instrument intraday leverage multiplier.
type Leverage struct {
	blobs  domain.BlobReader
	key    string
	logger *slog.Logger
}

// NewLeverage creates a Leverage source reading key from blobs.
func NewLeverage(blobs domain.BlobReader, key string, logger *slog.Logger) *Leverage {
	if key == "" {
		key = DefaultLeverageKey
	}
	return &Leverage{
		blobs:  blobs,
		key:    key,
		logger: logger.With(slog.String("component", "leverage_source")),
	}
}

// Load returns instrument id to leverage. Without a leverage column every
// listed instrument maps to 1; unparsable or non-positive values are left out
// so the sizer applies its own default.
func (l *Leverage) Load(ctx context.Context) (map[string]float64, error) {
	t, err := readTable(ctx, l.blobs, l.key)
	if err != nil {
		return nil, fmt.Errorf("source: leverage %s: %w", l.key, err)
	}
	if !t.has(ColInstrumentID) {
		return nil, fmt.Errorf("source: leverage %s: missing column %q", l.key, ColInstrumentID)
	}

	withLeverage := t.has(ColMISLeverage)
	if !withLeverage {
		l.logger.WarnContext(ctx, "leverage column missing, defaulting to 1",
			slog.String("key", l.key),
			slog.String("column", ColMISLeverage),
		)
	}

	out := make(map[string]float64, len(t.rows))
	for _, row := range t.rows {
		id := t.field(row, ColInstrumentID)
		if id == "" {
			continue
		}
		id = normaliseID(id)
		if !withLeverage {
			out[id] = 1
			continue
		}
		lev, err := strconv.ParseFloat(t.field(row, ColMISLeverage), 64)
		if err != nil || lev <= 0 {
			continue
		}
		out[id] = lev
	}

	l.logger.InfoContext(ctx, "leverage loaded",
		slog.String("key", l.key),
		slog.Int("instruments", len(out)),
	)
	return out, nil
}
