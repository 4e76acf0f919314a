package sizing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCompute_NonPositiveRiskIsZero(t *testing.T) {
	res := Compute(Input{Price: 100, Entry: 100, Stop: 100, MaxLoss: 1000}, 1e6, 5)
	assert.Zero(t, res.Quantity)
	assert.Zero(t, res.RiskAmount)
	assert.Zero(t, res.Exposure)

	res = Compute(Input{Price: 100, Entry: 100, Stop: 98, MaxLoss: 0}, 1e6, 5)
	assert.Zero(t, res.Quantity)
}

func TestCompute_BindingMinimum(t *testing.T) {
	tests := []struct {
		name     string
		in       Input
		fund     float64
		leverage float64
		want     int
	}{
		// 1000/10 = 100 by risk; 10000*5/1000 = 50 by fund.
		{"fund binds", Input{Price: 1000, Entry: 1000, Stop: 990, MaxLoss: 1000}, 10000, 5, 50},
		// 1000/10 = 100 by risk; 1e6/1000 = 1000 by fund.
		{"risk binds", Input{Price: 1000, Entry: 1000, Stop: 990, MaxLoss: 1000}, 1e6, 1, 100},
		{"short side", Input{Price: 250, Entry: 250, Stop: 253, MaxLoss: 1000}, 1e6, 1, 333},
		{"floors both", Input{Price: 333, Entry: 333, Stop: 326, MaxLoss: 1000}, 10000, 1, 30},
		{"no funds", Input{Price: 100, Entry: 100, Stop: 98, MaxLoss: 1000}, 0, 5, 0},
		{"negative funds", Input{Price: 100, Entry: 100, Stop: 98, MaxLoss: 1000}, -500, 5, 0},
		{"zero price", Input{Price: 0, Entry: 100, Stop: 98, MaxLoss: 1000}, 1e6, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Compute(tt.in, tt.fund, tt.leverage)
			assert.Equal(t, tt.want, res.Quantity)
			assert.GreaterOrEqual(t, res.Quantity, 0)
		})
	}
}

func TestCompute_ReportsRiskAndExposure(t *testing.T) {
	res := Compute(Input{Price: 1000, Entry: 1000, Stop: 990, MaxLoss: 1000}, 10000, 5)
	require.Equal(t, 50, res.Quantity)
	assert.InDelta(t, 500.0, res.RiskAmount, 1e-9)
	assert.InDelta(t, 50000.0, res.Exposure, 1e-9)
	assert.InDelta(t, 5.0, res.Leverage, 1e-9)
}

type staticFunds struct {
	v   float64
	err error
}

func (f staticFunds) Get(context.Context, bool) (float64, error) { return f.v, f.err }

type staticLeverage struct {
	m   map[string]float64
	err error
}

func (l staticLeverage) Get(context.Context, bool) (map[string]float64, error) { return l.m, l.err }

func TestSizer_UsesInstrumentLeverage(t *testing.T) {
	s := NewSizer(staticFunds{v: 10000}, staticLeverage{m: map[string]float64{"2885": 5}}, discardLogger())
	res, err := s.Size(context.Background(), Input{InstrumentID: "2885", Price: 1000, Entry: 1000, Stop: 990, MaxLoss: 1000})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Quantity)
}

func TestSizer_UnknownLeverageDefaultsToOne(t *testing.T) {
	s := NewSizer(staticFunds{v: 10000}, staticLeverage{m: map[string]float64{}}, discardLogger())
	res, err := s.Size(context.Background(), Input{InstrumentID: "999", Price: 1000, Entry: 1000, Stop: 990, MaxLoss: 1000})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Quantity)
	assert.InDelta(t, DefaultLeverage, res.Leverage, 1e-9)
}

func TestSizer_LeverageErrorDegrades(t *testing.T) {
	s := NewSizer(staticFunds{v: 10000}, staticLeverage{err: errors.New("s3 down")}, discardLogger())
	res, err := s.Size(context.Background(), Input{InstrumentID: "1", Price: 1000, Entry: 1000, Stop: 990, MaxLoss: 1000})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Quantity)
}

func TestSizer_FundErrorPropagates(t *testing.T) {
	s := NewSizer(staticFunds{err: errors.New("broker down")}, nil, discardLogger())
	_, err := s.Size(context.Background(), Input{Price: 100, Entry: 100, Stop: 98, MaxLoss: 1000})
	assert.Error(t, err)
}

func TestSnapshot_LoadsOnceAndForces(t *testing.T) {
	var calls atomic.Int32
	c := NewFundCache(func(ctx context.Context) (float64, error) {
		calls.Add(1)
		return 5000, nil
	})

	for i := 0; i < 3; i++ {
		v, err := c.Get(context.Background(), false)
		require.NoError(t, err)
		assert.InDelta(t, 5000.0, v, 1e-9)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, err := c.Get(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSnapshot_NonPositiveFundsReload(t *testing.T) {
	var calls atomic.Int32
	c := NewFundCache(func(ctx context.Context) (float64, error) {
		calls.Add(1)
		return 0, nil
	})
	_, _ = c.Get(context.Background(), false)
	_, _ = c.Get(context.Background(), false)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSnapshot_LoadError(t *testing.T) {
	c := NewLeverageCache(func(ctx context.Context) (map[string]float64, error) {
		return nil, errors.New("boom")
	})
	_, err := c.Get(context.Background(), false)
	assert.ErrorContains(t, err, "leverage")
}

func TestSnapshot_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	var gen atomic.Int32
	c := NewLeverageCache(func(ctx context.Context) (map[string]float64, error) {
		n := float64(gen.Add(1))
		return map[string]float64{"a": n, "b": n}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m, err := c.Get(context.Background(), i%4 == 0 && j%10 == 0)
				if assert.NoError(t, err) {
					assert.Equal(t, m["a"], m["b"])
				}
			}
		}(i)
	}
	wg.Wait()
}
