package source

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// Signal CSV column names.
const (
	ColStockName  = "Stock Name"
	ColSecurityID = "Security ID"
	ColSignal     = "Signal"
	ColEntry      = "Entry"
	ColStop       = "SL"
	ColQuantity   = "Quantity"
	ColTarget     = "Target"
)

// DefaultSignalsKey is the object the breakout scanner publishes each morning.
const DefaultSignalsKey = "uploads/nifty_15m_breakout_signals.csv"

var requiredSignalCols = []string{ColStockName, ColSecurityID, ColSignal, ColEntry, ColStop}

// Signals reads breakout signals from a CSV object.
type Signals struct {
	blobs  domain.BlobReader
	key    string
	logger *slog.Logger

	// freshIn is set when the object must have been written on the current
	// calendar day in that zone.
	freshIn *time.Location
	now     func() time.Time
}

// NewSignals creates a Signals source reading key from blobs.
func NewSignals(blobs domain.BlobReader, key string, logger *slog.Logger) *Signals {
	if key == "" {
		key = DefaultSignalsKey
	}
	return &Signals{
		blobs:  blobs,
		key:    key,
		logger: logger.With(slog.String("component", "signal_source")),
		now:    time.Now,
	}
}

// RequireFresh makes Load fail with domain.ErrStaleSignals when the signals
// object was last modified before today in loc. The scanner overwrites the
// same key every morning, so an old object means today's scan never ran.
func (s *Signals) RequireFresh(loc *time.Location) {
	s.freshIn = loc
}

func (s *Signals) checkFresh(ctx context.Context) error {
	info, err := s.blobs.Stat(ctx, s.key)
	if err != nil {
		return err
	}
	today := s.now().In(s.freshIn).Format(time.DateOnly)
	written := info.LastModified.In(s.freshIn).Format(time.DateOnly)
	if written != today {
		return fmt.Errorf("%w: last modified %s", domain.ErrStaleSignals, written)
	}
	return nil
}

// Load returns every well-formed signal row in file order. Malformed rows are
// skipped with a warning; a missing required column is an error.
func (s *Signals) Load(ctx context.Context) ([]domain.Signal, error) {
	if s.freshIn != nil {
		if err := s.checkFresh(ctx); err != nil {
			return nil, fmt.Errorf("source: signals %s: %w", s.key, err)
		}
	}
	t, err := readTable(ctx, s.blobs, s.key)
	if err != nil {
		return nil, fmt.Errorf("source: signals %s: %w", s.key, err)
	}
	if len(t.rows) == 0 {
		return nil, nil
	}
	for _, c := range requiredSignalCols {
		if !t.has(c) {
			return nil, fmt.Errorf("source: signals %s: missing column %q", s.key, c)
		}
	}

	out := make([]domain.Signal, 0, len(t.rows))
	for i, row := range t.rows {
		sig, err := parseSignal(t, row)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping signal row",
				slog.Int("row", i+2),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, sig)
	}

	s.logger.InfoContext(ctx, "signals loaded",
		slog.String("key", s.key),
		slog.Int("rows", len(t.rows)),
		slog.Int("signals", len(out)),
	)
	return out, nil
}

func parseSignal(t *table, row []string) (domain.Signal, error) {
	id := t.field(row, ColSecurityID)
	if id == "" {
		return domain.Signal{}, fmt.Errorf("empty %s", ColSecurityID)
	}
	id = normaliseID(id)

	dir, err := domain.ParseDirection(t.field(row, ColSignal))
	if err != nil {
		return domain.Signal{}, err
	}
	entry, err := parsePrice(t.field(row, ColEntry))
	if err != nil {
		return domain.Signal{}, fmt.Errorf("%s: %w", ColEntry, err)
	}
	stop, err := parsePrice(t.field(row, ColStop))
	if err != nil {
		return domain.Signal{}, fmt.Errorf("%s: %w", ColStop, err)
	}

	sig := domain.Signal{
		InstrumentID: id,
		Name:         t.field(row, ColStockName),
		Direction:    dir,
		Entry:        entry,
		Stop:         stop,
	}
	if sig.Name == "" {
		sig.Name = id
	}
	if v := t.field(row, ColTarget); v != "" {
		if target, err := parsePrice(v); err == nil {
			sig.Target = target
		}
	}
	if v := t.field(row, ColQuantity); v != "" {
		if q, err := strconv.ParseFloat(v, 64); err == nil && q > 0 {
			sig.Quantity = int(q)
		}
	}
	return sig, nil
}

func parsePrice(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid price %q", v)
	}
	return f, nil
}

// normaliseID turns float-formatted ids such as "2885.0" into "2885".
func normaliseID(id string) string {
	if f, err := strconv.ParseFloat(id, 64); err == nil && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return id
}
