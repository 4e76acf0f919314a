package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
	"github.com/alanyoungcy/breakoutbot/internal/retry"
)

// QuoteSource fetches quotes for one segment in a single request.
type QuoteSource interface {
	Quotes(ctx context.Context, segment domain.Segment, ids []string) (map[string]domain.Quote, error)
}

// QuoteConfig tunes batching and retry behaviour of QuoteService.
type QuoteConfig struct {
	BatchSize     int
	BatchAttempts int
	BatchDelay    time.Duration
	BatchPause    time.Duration
	IndexID       string
}

// DefaultQuoteConfig matches the broker's documented quote limits.
func DefaultQuoteConfig() QuoteConfig {
	return QuoteConfig{
		BatchSize:     1000,
		BatchAttempts: 10,
		BatchDelay:    time.Second,
		BatchPause:    time.Second,
		IndexID:       domain.NiftyIndexID,
	}
}

// QuoteService serves last traded prices and the reference index snapshot.
// Every successful equity quote is remembered in process and written through
// to the price cache when one is configured.
type QuoteService struct {
	src    QuoteSource
	cache  domain.PriceCache
	cfg    QuoteConfig
	logger *slog.Logger

	mu   sync.RWMutex
	seen map[string]seenPrice
}

type seenPrice struct {
	price float64
	at    time.Time
}

// NewQuoteService creates a QuoteService. cache may be nil.
func NewQuoteService(src QuoteSource, cache domain.PriceCache, cfg QuoteConfig, logger *slog.Logger) *QuoteService {
	def := DefaultQuoteConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchAttempts <= 0 {
		cfg.BatchAttempts = def.BatchAttempts
	}
	if cfg.IndexID == "" {
		cfg.IndexID = def.IndexID
	}
	return &QuoteService{
		src:    src,
		cache:  cache,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "quote_service")),
		seen:   make(map[string]seenPrice),
	}
}

// Quotes fetches ids in batches of BatchSize, retrying each batch up to
// BatchAttempts times. A batch that still fails is skipped and the remaining
// batches are fetched; an error is returned only when nothing was fetched.
func (s *QuoteService) Quotes(ctx context.Context, segment domain.Segment, ids []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var lastErr error
	for start := 0; start < len(ids); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(ids))
		batch := ids[start:end]

		quotes, err := retry.Do(ctx, retry.Policy{
			Attempts: s.cfg.BatchAttempts,
			Delay:     s.cfg.BatchDelay,
			Retryable: domain.Retryable,
			OnRetry: func(attempt int, err error) {
				s.logger.WarnContext(ctx, "quote batch failed, retrying",
					slog.Int("attempt", attempt),
					slog.Int("batch_size", len(batch)),
					slog.String("error", err.Error()),
				)
			},
		}, func(ctx context.Context) (map[string]domain.Quote, error) {
			return s.src.Quotes(ctx, segment, batch)
		})
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			lastErr = err
			s.logger.ErrorContext(ctx, "quote batch abandoned",
				slog.Int("batch_start", start),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		for id, q := range quotes {
			out[id] = q
			if segment == domain.SegmentEquity {
				s.remember(ctx, q)
			}
		}

		if end < len(ids) {
			if err := retry.Sleep(ctx, s.cfg.BatchPause); err != nil {
				return out, err
			}
		}
	}

	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("quote_service: quotes: %w", lastErr)
	}
	return out, nil
}

// LastPrice makes one attempt to read the last traded price of an equity.
// It returns domain.ErrPriceUnavailable when the broker has no usable price.
func (s *QuoteService) LastPrice(ctx context.Context, securityID string) (float64, error) {
	quotes, err := s.src.Quotes(ctx, domain.SegmentEquity, []string{securityID})
	if err != nil {
		return 0, fmt.Errorf("quote_service: last price %s: %w: %w", securityID, domain.ErrPriceUnavailable, err)
	}
	q, ok := quotes[securityID]
	if !ok || q.LastPrice <= 0 {
		return 0, fmt.Errorf("quote_service: last price %s: %w", securityID, domain.ErrPriceUnavailable)
	}
	s.remember(ctx, q)
	return q.LastPrice, nil
}

// IndexQuote returns the reference index last price and previous close,
// derived as last price minus net change. The index is fetched through
// Quotes so it shares the batch retry budget. A quote without a net change
// yields domain.ErrPriceUnavailable: the previous close cannot be derived and
// guessing it would open the market gate in both directions.
func (s *QuoteService) IndexQuote(ctx context.Context) (domain.IndexQuote, error) {
	quotes, err := s.Quotes(ctx, domain.SegmentIndex, []string{s.cfg.IndexID})
	if err != nil {
		return domain.IndexQuote{}, fmt.Errorf("quote_service: index %s: %w: %w", s.cfg.IndexID, domain.ErrPriceUnavailable, err)
	}
	q, ok := quotes[s.cfg.IndexID]
	switch {
	case !ok || q.LastPrice <= 0:
		return domain.IndexQuote{}, fmt.Errorf("quote_service: index %s: %w", s.cfg.IndexID, domain.ErrPriceUnavailable)
	case !q.HasNetChange:
		return domain.IndexQuote{}, fmt.Errorf("quote_service: index %s: no net change: %w", s.cfg.IndexID, domain.ErrPriceUnavailable)
	}

	iq := domain.IndexQuote{
		LastPrice: q.LastPrice,
		PrevClose: q.LastPrice - q.NetChange,
	}
	s.logger.InfoContext(ctx, "index quote",
		slog.String("index", s.cfg.IndexID),
		slog.Float64("ltp", iq.LastPrice),
		slog.Float64("prev_close", iq.PrevClose),
	)
	return iq, nil
}

// CachedPrice returns the most recent price seen for an equity without
// calling the broker. The shared price cache is consulted first, then the
// prices this process observed itself. domain.ErrNotFound is returned when
// neither has one.
func (s *QuoteService) CachedPrice(ctx context.Context, securityID string) (float64, time.Time, error) {
	if s.cache != nil {
		price, at, err := s.cache.GetPrice(ctx, securityID)
		if err == nil {
			return price, at, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.DebugContext(ctx, "price cache read failed",
				slog.String("security_id", securityID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.mu.RLock()
	p, ok := s.seen[securityID]
	s.mu.RUnlock()
	if !ok {
		return 0, time.Time{}, fmt.Errorf("quote_service: cached price %s: %w", securityID, domain.ErrNotFound)
	}
	return p.price, p.at, nil
}

func (s *QuoteService) remember(ctx context.Context, q domain.Quote) {
	if q.LastPrice <= 0 {
		return
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.seen[q.SecurityID] = seenPrice{price: q.LastPrice, at: now}
	s.mu.Unlock()

	if s.cache == nil {
		return
	}
	if err := s.cache.SetPrice(ctx, q.SecurityID, q.LastPrice, now); err != nil {
		s.logger.DebugContext(ctx, "price cache write failed",
			slog.String("security_id", q.SecurityID),
			slog.String("error", err.Error()),
		)
	}
}
