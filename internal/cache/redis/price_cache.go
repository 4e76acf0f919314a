package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// DefaultPriceTTL bounds how long an unrefreshed last traded price lives.
const DefaultPriceTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache with one hash per security at
// "<prefix>ltp:<security id>" holding fields "price" and "ts" (Unix nanos).
// Entries expire after the configured TTL.
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. ttl <= 0 selects DefaultPriceTTL.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &PriceCache{c: c, ttl: ttl}
}

// SetPrice stores the latest price of a security and refreshes its TTL.
func (pc *PriceCache) SetPrice(ctx context.Context, securityID string, price float64, ts time.Time) error {
	key := pc.c.key("ltp", securityID)
	_, err := pc.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"price": strconv.FormatFloat(price, 'f', -1, 64),
			"ts":    strconv.FormatInt(ts.UnixNano(), 10),
		})
		pipe.Expire(ctx, key, pc.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", securityID, err)
	}
	return nil
}

// GetPrice returns the cached price of a security and when it was observed.
// It returns domain.ErrNotFound when nothing is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, securityID string) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("ltp", securityID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", securityID, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", securityID, err)
	}

	var ts time.Time
	if tsStr, ok := vals["ts"]; ok {
		nanos, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", securityID, err)
		}
		ts = time.Unix(0, nanos)
	}
	return price, ts, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
