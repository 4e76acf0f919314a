package executor

import (
	"context"
	"sync"
	"time"
)

// DailyGuard records that a trade was placed on the current trading day.
// Mark is an atomic check-and-set: it returns false when the day was already
// marked, so at most one caller wins per day.
type DailyGuard interface {
	Done(ctx context.Context) (bool, error)
	Mark(ctx context.Context) (bool, error)
}

// DayKey returns the trading-day key of t in loc, e.g. "2026-03-02".
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// LocalGuard is an in-process DailyGuard. It resets when the calendar day in
// its location changes, not on process restart.
type LocalGuard struct {
	mu  sync.Mutex
	day string
	loc *time.Location
	now func() time.Time
}

// NewLocalGuard creates a LocalGuard keyed to the calendar day in loc.
func NewLocalGuard(loc *time.Location) *LocalGuard {
	if loc == nil {
		loc = time.UTC
	}
	return &LocalGuard{loc: loc, now: time.Now}
}

// Done reports whether today is already marked.
func (g *LocalGuard) Done(_ context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.day == DayKey(g.now(), g.loc), nil
}

// Mark marks today. It returns false if today was already marked.
func (g *LocalGuard) Mark(_ context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	today := DayKey(g.now(), g.loc)
	if g.day == today {
		return false, nil
	}
	g.day = today
	return true, nil
}
