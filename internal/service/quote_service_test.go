package service_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
	"github.com/alanyoungcy/breakoutbot/internal/platform/dhan"
	"github.com/alanyoungcy/breakoutbot/internal/service"
)

type fakeQuoteSource struct {
	mu      sync.Mutex
	prices  map[string]domain.Quote
	batches [][]string
	// fail holds the number of leading calls that fail.
	fail int
	// failBatch makes every call containing this id fail.
	failBatch string
}

func (f *fakeQuoteSource) Quotes(_ context.Context, segment domain.Segment, ids []string) (map[string]domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), ids...))
	if f.fail > 0 {
		f.fail--
		return nil, domain.ErrRateLimited
	}
	out := make(map[string]domain.Quote, len(ids))
	for _, id := range ids {
		if id == f.failBatch {
			return nil, errors.New("upstream 502")
		}
		if q, ok := f.prices[id]; ok {
			q.SecurityID = id
			q.Segment = segment
			out[id] = q
		}
	}
	return out, nil
}

type memPriceCache struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (c *memPriceCache) SetPrice(_ context.Context, id string, price float64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prices == nil {
		c.prices = make(map[string]float64)
	}
	c.prices[id] = price
	return nil
}

func (c *memPriceCache) GetPrice(_ context.Context, id string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[id]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func fastQuoteConfig() service.QuoteConfig {
	cfg := service.DefaultQuoteConfig()
	cfg.BatchDelay = 0
	cfg.BatchPause = 0
	return cfg
}

func TestQuoteService_Batches(t *testing.T) {
	src := &fakeQuoteSource{prices: map[string]domain.Quote{
		"1": {LastPrice: 10}, "2": {LastPrice: 20}, "3": {LastPrice: 30}, "4": {LastPrice: 40}, "5": {LastPrice: 50},
	}}
	cache := &memPriceCache{}
	cfg := fastQuoteConfig()
	cfg.BatchSize = 2
	svc := service.NewQuoteService(src, cache, cfg, discardLogger())

	quotes, err := svc.Quotes(context.Background(), domain.SegmentEquity, []string{"1", "2", "3", "4", "5"})
	require.NoError(t, err)
	assert.Len(t, quotes, 5)
	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}, {"5"}}, src.batches)
	assert.InDelta(t, 30.0, cache.prices["3"], 1e-9)
}

func TestQuoteService_FailedBatchSkipped(t *testing.T) {
	src := &fakeQuoteSource{
		prices:    map[string]domain.Quote{"1": {LastPrice: 10}, "2": {LastPrice: 20}, "3": {LastPrice: 30}},
		failBatch: "3",
	}
	cfg := fastQuoteConfig()
	cfg.BatchSize = 2
	cfg.BatchAttempts = 2
	svc := service.NewQuoteService(src, nil, cfg, discardLogger())

	quotes, err := svc.Quotes(context.Background(), domain.SegmentEquity, []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
	// first batch once, second batch twice
	assert.Len(t, src.batches, 3)
}

func TestQuoteService_AllBatchesFail(t *testing.T) {
	src := &fakeQuoteSource{failBatch: "1"}
	cfg := fastQuoteConfig()
	cfg.BatchAttempts = 2
	svc := service.NewQuoteService(src, nil, cfg, discardLogger())

	_, err := svc.Quotes(context.Background(), domain.SegmentEquity, []string{"1"})
	assert.Error(t, err)
}

func TestQuoteService_LastPriceSingleAttempt(t *testing.T) {
	src := &fakeQuoteSource{prices: map[string]domain.Quote{"2885": {LastPrice: 100}}, fail: 1}
	svc := service.NewQuoteService(src, nil, fastQuoteConfig(), discardLogger())

	_, err := svc.LastPrice(context.Background(), "2885")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.Len(t, src.batches, 1)

	p, err := svc.LastPrice(context.Background(), "2885")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, p, 1e-9)
}

func TestQuoteService_LastPriceMissing(t *testing.T) {
	src := &fakeQuoteSource{prices: map[string]domain.Quote{"2885": {LastPrice: 0}}}
	svc := service.NewQuoteService(src, nil, fastQuoteConfig(), discardLogger())

	_, err := svc.LastPrice(context.Background(), "2885")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestQuoteService_CachedPrice(t *testing.T) {
	src := &fakeQuoteSource{prices: map[string]domain.Quote{"2885": {LastPrice: 101.5}}}
	svc := service.NewQuoteService(src, nil, fastQuoteConfig(), discardLogger())

	_, _, err := svc.CachedPrice(context.Background(), "2885")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.LastPrice(context.Background(), "2885")
	require.NoError(t, err)

	p, at, err := svc.CachedPrice(context.Background(), "2885")
	require.NoError(t, err)
	assert.InDelta(t, 101.5, p, 1e-9)
	assert.False(t, at.IsZero())
	assert.Len(t, src.batches, 1, "cached reads must not reach the broker")
}

func TestQuoteService_CachedPricePrefersSharedCache(t *testing.T) {
	cache := &memPriceCache{prices: map[string]float64{"1333": 1650}}
	svc := service.NewQuoteService(&fakeQuoteSource{}, cache, fastQuoteConfig(), discardLogger())

	p, _, err := svc.CachedPrice(context.Background(), "1333")
	require.NoError(t, err)
	assert.InDelta(t, 1650.0, p, 1e-9)
}

func TestQuoteService_IndexNotCachedAsEquity(t *testing.T) {
	src := &fakeQuoteSource{prices: map[string]domain.Quote{
		domain.NiftyIndexID: {LastPrice: 22450, NetChange: 10, HasNetChange: true},
	}}
	cache := &memPriceCache{}
	svc := service.NewQuoteService(src, cache, fastQuoteConfig(), discardLogger())

	_, err := svc.IndexQuote(context.Background())
	require.NoError(t, err)
	_, _, err = svc.CachedPrice(context.Background(), domain.NiftyIndexID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQuoteService_IndexPrevClose(t *testing.T) {
	src := &fakeQuoteSource{prices: map[string]domain.Quote{
		domain.NiftyIndexID: {LastPrice: 22450, NetChange: -35.5, HasNetChange: true},
	}}
	svc := service.NewQuoteService(src, nil, fastQuoteConfig(), discardLogger())

	iq, err := svc.IndexQuote(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 22450.0, iq.LastPrice, 1e-9)
	assert.InDelta(t, 22485.5, iq.PrevClose, 1e-9)
	require.Len(t, src.batches, 1)
	assert.Equal(t, []string{domain.NiftyIndexID}, src.batches[0])
}

func TestQuoteService_IndexUnavailable(t *testing.T) {
	src := &fakeQuoteSource{}
	svc := service.NewQuoteService(src, nil, fastQuoteConfig(), discardLogger())

	_, err := svc.IndexQuote(context.Background())
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.Len(t, src.batches, 1)
}

func TestQuoteService_IndexUsesBatchRetries(t *testing.T) {
	src := &fakeQuoteSource{
		prices: map[string]domain.Quote{domain.NiftyIndexID: {LastPrice: 22450, NetChange: 5, HasNetChange: true}},
		fail:   8,
	}
	svc := service.NewQuoteService(src, nil, fastQuoteConfig(), discardLogger())

	iq, err := svc.IndexQuote(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 22445.0, iq.PrevClose, 1e-9)
	assert.Len(t, src.batches, 9)
}

func TestQuoteService_IndexWithoutNetChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"IDX_I":{"13":{"last_price":22000}}},"status":"success"}`)
	}))
	defer srv.Close()

	client := dhan.NewClient(dhan.Config{BaseURL: srv.URL, ClientID: "1", AccessToken: "tok", QuoteRPS: 1000, OrderRPS: 1000})
	svc := service.NewQuoteService(client, nil, fastQuoteConfig(), discardLogger())

	_, err := svc.IndexQuote(context.Background())
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestQuoteService_IndexFlatDay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"IDX_I":{"13":{"last_price":22000,"net_change":0}}},"status":"success"}`)
	}))
	defer srv.Close()

	client := dhan.NewClient(dhan.Config{BaseURL: srv.URL, ClientID: "1", AccessToken: "tok", QuoteRPS: 1000, OrderRPS: 1000})
	svc := service.NewQuoteService(client, nil, fastQuoteConfig(), discardLogger())

	iq, err := svc.IndexQuote(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 22000.0, iq.PrevClose, 1e-9)
}

func TestQuoteService_InvalidInstrumentNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	client := dhan.NewClient(dhan.Config{BaseURL: srv.URL, ClientID: "1", AccessToken: "tok", QuoteRPS: 1000, OrderRPS: 1000})
	svc := service.NewQuoteService(client, nil, fastQuoteConfig(), discardLogger())

	_, err := svc.Quotes(context.Background(), domain.SegmentEquity, []string{"RELIANCE"})
	assert.ErrorIs(t, err, domain.ErrInvalidInstrument)
	assert.Zero(t, calls)
}
