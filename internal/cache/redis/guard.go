package redis

import (
	"context"
	"fmt"
	"time"
)

// guardTTL keeps a day's marker past the session close and then lets it
// expire on its own.
const guardTTL = 36 * time.Hour

// DailyGuard is a once-per-trading-day flag shared by every process that uses
// the same Redis. The key is "<prefix>traded:<YYYY-MM-DD>" in loc, so it
// resets on the exchange calendar day.
type DailyGuard struct {
	c   *Client
	loc *time.Location
	now func() time.Time
}

// NewDailyGuard creates a DailyGuard keyed to the calendar day in loc.
func NewDailyGuard(c *Client, loc *time.Location) *DailyGuard {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyGuard{c: c, loc: loc, now: time.Now}
}

func (g *DailyGuard) dayKey() string {
	return g.c.key("traded", g.now().In(g.loc).Format("2006-01-02"))
}

// Done reports whether a trade was already marked today.
func (g *DailyGuard) Done(ctx context.Context) (bool, error) {
	n, err := g.c.rdb.Exists(ctx, g.dayKey()).Result()
	if err != nil {
		return false, fmt.Errorf("redis: guard done: %w", err)
	}
	return n > 0, nil
}

// Mark atomically marks today. It returns false when another caller marked
// it first.
func (g *DailyGuard) Mark(ctx context.Context) (bool, error) {
	ok, err := g.c.rdb.SetNX(ctx, g.dayKey(), g.now().UTC().Format(time.RFC3339), guardTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis: guard mark: %w", err)
	}
	return ok, nil
}
