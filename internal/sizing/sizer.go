// Package sizing turns a fixed monetary risk budget into a share quantity
// capped by leveraged buying power.
package sizing

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// DefaultLeverage applies to instruments missing from the leverage map.
const DefaultLeverage = 1.0

// FundCache yields the available trading balance.
type FundCache interface {
	Get(ctx context.Context, force bool) (float64, error)
}

// LeverageCache yields the intraday leverage multiplier per instrument id.
type LeverageCache interface {
	Get(ctx context.Context, force bool) (map[string]float64, error)
}

// Input describes one sizing request. Price is the current market price used
// for the fund cap; Entry and Stop define the per-share risk.
type Input struct {
	InstrumentID string
	Price        float64
	Entry        float64
	Stop         float64
	MaxLoss      float64
}

// Compute returns max(0, min(floor(maxLoss/risk), floor(fund*leverage/price))).
// The quantity is zero when risk or price is not positive.
func Compute(in Input, fund, leverage float64) domain.SizingResult {
	res := domain.SizingResult{Leverage: leverage, Funds: fund}

	risk := math.Abs(in.Entry - in.Stop)
	if risk <= 0 || in.Price <= 0 || in.MaxLoss <= 0 {
		return res
	}

	byRisk := math.Floor(in.MaxLoss / risk)
	byFund := math.Floor(fund * leverage / in.Price)
	qty := math.Min(byRisk, byFund)
	if qty <= 0 || math.IsNaN(qty) {
		return res
	}

	res.Quantity = int(qty)
	res.RiskAmount = float64(res.Quantity) * risk
	res.Exposure = float64(res.Quantity) * in.Price
	return res
}

// Sizer reads the fund and leverage caches and applies Compute.
type Sizer struct {
	funds    FundCache
	leverage LeverageCache
	logger   *slog.Logger
}

// NewSizer creates a Sizer over the given caches.
func NewSizer(funds FundCache, leverage LeverageCache, logger *slog.Logger) *Sizer {
	return &Sizer{
		funds:    funds,
		leverage: leverage,
		logger:   logger.With(slog.String("component", "sizer")),
	}
}

// Size computes the quantity for in. A failed fund read is returned as an
// error; an unknown or unreadable leverage falls back to DefaultLeverage.
func (s *Sizer) Size(ctx context.Context, in Input) (domain.SizingResult, error) {
	fund, err := s.funds.Get(ctx, false)
	if err != nil {
		return domain.SizingResult{}, fmt.Errorf("sizing: funds: %w", err)
	}

	lev := s.leverageFor(ctx, in.InstrumentID)
	res := Compute(in, fund, lev)

	s.logger.DebugContext(ctx, "position sized",
		slog.String("instrument", in.InstrumentID),
		slog.Float64("price", in.Price),
		slog.Float64("risk_per_share", math.Abs(in.Entry-in.Stop)),
		slog.Float64("funds", fund),
		slog.Float64("leverage", lev),
		slog.Int("quantity", res.Quantity),
		slog.Float64("exposure", res.Exposure),
	)
	return res, nil
}

func (s *Sizer) leverageFor(ctx context.Context, instrumentID string) float64 {
	if s.leverage == nil {
		return DefaultLeverage
	}
	m, err := s.leverage.Get(ctx, false)
	if err != nil {
		s.logger.WarnContext(ctx, "leverage map unavailable, using default",
			slog.String("instrument", instrumentID),
			slog.String("error", err.Error()),
		)
		return DefaultLeverage
	}
	lev, ok := m[instrumentID]
	if !ok || lev <= 0 {
		s.logger.WarnContext(ctx, "leverage not found, using default",
			slog.String("instrument", instrumentID),
			slog.Float64("default", DefaultLeverage),
		)
		return DefaultLeverage
	}
	return lev
}
