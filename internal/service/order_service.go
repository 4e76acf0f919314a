package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
	"github.com/alanyoungcy/breakoutbot/internal/retry"
	"github.com/alanyoungcy/breakoutbot/internal/sizing"
)

// PriceSource makes a single attempt to read an instrument's last price.
type PriceSource interface {
	LastPrice(ctx context.Context, securityID string) (float64, error)
}

// Sizer converts a candidate into an executable quantity.
type Sizer interface {
	Size(ctx context.Context, in sizing.Input) (domain.SizingResult, error)
}

// OrderConfig holds the placement policy of OrderService.
type OrderConfig struct {
	MaxLoss          float64
	TrailingFraction float64
	RewardMultiple   float64
	TickSize         float64
	LTPAttempts      int
	LTPDelay         time.Duration
}

// DefaultOrderConfig returns the standard intraday placement policy.
func DefaultOrderConfig() OrderConfig {
	return OrderConfig{
		MaxLoss:          1000,
		TrailingFraction: 0.5,
		RewardMultiple:   1.5,
		TickSize:         0.05,
		LTPAttempts:      3,
		LTPDelay:         time.Second,
	}
}

// OrderService is the only component that mutates broker-side order state.
// It places bracket orders and modifies or cancels their legs. Expected
// failures are reported as values, never as panics.
type OrderService struct {
	broker domain.BracketBroker
	prices PriceSource
	sizer  Sizer
	audit  domain.AuditStore
	cfg    OrderConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewOrderService creates an OrderService. audit may be nil.
func NewOrderService(
	broker domain.BracketBroker,
	prices PriceSource,
	sizer Sizer,
	audit domain.AuditStore,
	cfg OrderConfig,
	logger *slog.Logger,
) *OrderService {
	def := DefaultOrderConfig()
	if cfg.MaxLoss <= 0 {
		cfg.MaxLoss = def.MaxLoss
	}
	if cfg.TrailingFraction <= 0 {
		cfg.TrailingFraction = def.TrailingFraction
	}
	if cfg.RewardMultiple <= 0 {
		cfg.RewardMultiple = def.RewardMultiple
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = def.TickSize
	}
	if cfg.LTPAttempts <= 0 {
		cfg.LTPAttempts = def.LTPAttempts
	}
	return &OrderService{
		broker: broker,
		prices: prices,
		sizer:  sizer,
		audit:  audit,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "order_service")),
	}
}

// Place submits a sized bracket order for sig. The returned order
// carries the values actually submitted: entry is the live price at
// submission, not the signal's proposed entry. A non-nil error is returned
// only when ctx is done.
func (s *OrderService) Place(ctx context.Context, sig domain.Signal) (domain.PlaceResult, error) {
	log := s.logger.With(
		slog.String("instrument", sig.InstrumentID),
		slog.String("name", sig.Name),
		slog.String("direction", string(sig.Direction)),
	)

	ltp, err := retry.Do(ctx, retry.Policy{
		Attempts:  s.cfg.LTPAttempts,
		Delay:     s.cfg.LTPDelay,
		Retryable: domain.Retryable,
		OnRetry: func(attempt int, err error) {
			log.WarnContext(ctx, "ltp unavailable, retrying", slog.Int("attempt", attempt), slog.String("error", err.Error()))
		},
	}, func(ctx context.Context) (float64, error) {
		return s.prices.LastPrice(ctx, sig.InstrumentID)
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.PlaceResult{}, ctx.Err()
		}
		return s.reject(ctx, log, sig, domain.RejectPriceUnavailable, err.Error()), nil
	}

	if crossedEntry(sig.Direction, ltp, sig.Entry) {
		return s.reject(ctx, log, sig, domain.RejectEntryCrossed,
			fmt.Sprintf("ltp %.2f against entry %.2f", ltp, sig.Entry)), nil
	}
	if !protectiveStop(sig.Direction, ltp, sig.Stop) {
		return s.reject(ctx, log, sig, domain.RejectInvalidStop,
			fmt.Sprintf("stop %.2f not protective at ltp %.2f", sig.Stop, ltp)), nil
	}

	sized, err := s.sizer.Size(ctx, sizing.Input{
		InstrumentID: sig.InstrumentID,
		Price:        ltp,
		Entry:        ltp,
		Stop:         sig.Stop,
		MaxLoss:      s.cfg.MaxLoss,
	})
	if err != nil {
		return s.reject(ctx, log, sig, domain.RejectSizingFailed, err.Error()), nil
	}
	if sized.Quantity <= 0 {
		return s.reject(ctx, log, sig, domain.RejectZeroQuantity,
			fmt.Sprintf("funds %.2f leverage %.2f", sized.Funds, sized.Leverage)), nil
	}

	risk := math.Abs(ltp - sig.Stop)
	entry := s.roundTick(ltp)
	stop := s.roundTick(sig.Stop)
	jump := math.Max(s.roundTick(risk*s.cfg.TrailingFraction), s.cfg.TickSize)
	target := sig.Target
	if target <= 0 || !sig.Direction.Favorable(target, ltp) || target == ltp {
		target = s.roundTick(ltp + sig.Direction.Sign()*s.cfg.RewardMultiple*risk)
	} else {
		target = s.roundTick(target)
	}

	req := domain.BracketRequest{
		CorrelationID: correlationID(sig.Name),
		InstrumentID:  sig.InstrumentID,
		Direction:     sig.Direction,
		OrderType:     domain.OrderTypeLimit,
		Quantity:      sized.Quantity,
		Price:         entry,
		Target:        target,
		Stop:          stop,
		TrailingJump:  jump,
	}

	res, err := s.broker.PlaceBracket(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.PlaceResult{}, ctx.Err()
		}
		return s.reject(ctx, log, sig, domain.RejectBroker, err.Error()), nil
	}
	if res.OrderID == "" {
		return s.reject(ctx, log, sig, domain.RejectBroker, "broker returned no order id"), nil
	}

	order := domain.BracketOrder{
		OrderID:       res.OrderID,
		CorrelationID: req.CorrelationID,
		InstrumentID:  sig.InstrumentID,
		Name:          sig.Name,
		Direction:     sig.Direction,
		Entry:         entry,
		Stop:          stop,
		Target:        target,
		TrailingJump:  jump,
		Quantity:      sized.Quantity,
		PlacedAt: s.now().UTC(),
	}

	s.auditLog(ctx, "order_placed", map[string]any{
		"order_id":      order.OrderID,
		"instrument":    order.InstrumentID,
		"direction":     string(order.Direction),
		"entry":         order.Entry,
		"stop":          order.Stop,
		"target":        order.Target,
		"trailing_jump": order.TrailingJump,
		"quantity":      order.Quantity,
		"exposure":      sized.Exposure,
		"risk_amount":   sized.RiskAmount,
	})

	log.InfoContext(ctx, "bracket order placed",
		slog.String("order_id", order.OrderID),
		slog.String("status", res.Status),
		slog.Float64("entry", order.Entry),
		slog.Float64("stop", order.Stop),
		slog.Float64("target", order.Target),
		slog.Float64("trailing_jump", order.TrailingJump),
		slog.Int("quantity", order.Quantity),
	)

	return domain.PlaceResult{Order: order}, nil
}

// PartialBook reduces the entry leg to newQty at market.
func (s *OrderService) PartialBook(ctx context.Context, orderID string, newQty int) (domain.ModifyResult, error) {
	if newQty <= 0 {
		return domain.ModifyResult{}, fmt.Errorf("order_service: partial book %s: %w: %d", orderID, domain.ErrInvalidQuantity, newQty)
	}
	return s.modify(ctx, "partial_book", domain.LegModification{
		OrderID:   orderID,
		Leg:       domain.LegEntry,
		OrderType: domain.OrderTypeMarket,
		Quantity:  &newQty,
	})
}

// TrailStop moves the stop-loss leg to newStop.
func (s *OrderService) TrailStop(ctx context.Context, orderID string, newStop, trailingJump float64) (domain.ModifyResult, error) {
	stop := s.roundTick(newStop)
	jump := s.roundTick(trailingJump)
	return s.modify(ctx, "trail_stop", domain.LegModification{
		OrderID:      orderID,
		Leg:          domain.LegStopLoss,
		Stop:         &stop,
		TrailingJump: &jump,
	})
}

// ExitAtMarket converts the stop-loss leg into a market order triggered
// buffer away from ltp on the side that fills immediately: below for longs,
// above for shorts. buffer is a positive magnitude.
func (s *OrderService) ExitAtMarket(ctx context.Context, orderID string, dir domain.Direction, ltp, buffer float64) (domain.ModifyResult, error) {
	if buffer <= 0 || math.IsNaN(buffer) {
		return domain.ModifyResult{}, fmt.Errorf("order_service: exit %s: %w", orderID, domain.ErrInvalidBuffer)
	}
	trigger := s.roundTick(ltp - dir.Sign()*buffer)
	return s.modify(ctx, "exit_at_market", domain.LegModification{
		OrderID:   orderID,
		Leg:       domain.LegStopLoss,
		OrderType: domain.OrderTypeMarket,
		Stop:      &trigger,
	})
}

// Cancel cancels the entry leg, which withdraws the whole bracket if it has
// not filled.
func (s *OrderService) Cancel(ctx context.Context, orderID string) (domain.ModifyResult, error) {
	res, err := s.broker.CancelLeg(ctx, orderID, domain.LegEntry)
	if err != nil {
		s.logger.ErrorContext(ctx, "cancel failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return domain.ModifyResult{}, fmt.Errorf("order_service: cancel %s: %w", orderID, err)
	}
	s.auditLog(ctx, "order_cancelled", map[string]any{"order_id": orderID, "status": res.Status})
	s.logger.InfoContext(ctx, "order cancelled", slog.String("order_id", orderID), slog.String("status", res.Status))
	return res, nil
}

func (s *OrderService) modify(ctx context.Context, op string, mod domain.LegModification) (domain.ModifyResult, error) {
	res, err := s.broker.ModifyLeg(ctx, mod)
	if err != nil {
		s.logger.ErrorContext(ctx, "leg modification failed",
			slog.String("op", op),
			slog.String("order_id", mod.OrderID),
			slog.String("leg", string(mod.Leg)),
			slog.Bool("order_closed", errors.Is(err, domain.ErrOrderClosed)),
			slog.String("error", err.Error()),
		)
		return domain.ModifyResult{}, fmt.Errorf("order_service: %s %s: %w", op, mod.OrderID, err)
	}

	detail := map[string]any{
		"order_id": mod.OrderID,
		"leg":      string(mod.Leg),
		"status":   res.Status,
	}
	if mod.Quantity != nil {
		detail["quantity"] = *mod.Quantity
	}
	if mod.Stop != nil {
		detail["stop"] = *mod.Stop
	}
	s.auditLog(ctx, op, detail)

	s.logger.InfoContext(ctx, "leg modified",
		slog.String("op", op),
		slog.String("order_id", mod.OrderID),
		slog.String("leg", string(mod.Leg)),
		slog.String("status", res.Status),
	)
	return res, nil
}

func (s *OrderService) reject(ctx context.Context, log *slog.Logger, sig domain.Signal, reason domain.RejectReason, detail string) domain.PlaceResult {
	log.WarnContext(ctx, "placement rejected",
		slog.String("reason", string(reason)),
		slog.String("detail", detail),
	)
	s.auditLog(ctx, "order_rejected", map[string]any{
		"instrument": sig.InstrumentID,
		"name":       sig.Name,
		"reason":     string(reason),
		"detail":     detail,
	})
	return domain.PlaceResult{Rejection: &domain.Rejection{Reason: reason, Detail: detail}}
}

func (s *OrderService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// roundTick rounds v to the nearest multiple of the configured tick size.
func (s *OrderService) roundTick(v float64) float64 {
	tick := decimal.NewFromFloat(s.cfg.TickSize)
	return decimal.NewFromFloat(v).Div(tick).Round(0).Mul(tick).Round(2).InexactFloat64()
}

// crossedEntry reports whether price has already moved through the proposed
// entry against the breakout: below it for longs, above it for shorts.
func crossedEntry(dir domain.Direction, ltp, entry float64) bool {
	if dir == domain.DirectionSell {
		return ltp > entry
	}
	return ltp < entry
}

func protectiveStop(dir domain.Direction, ltp, stop float64) bool {
	if stop <= 0 {
		return false
	}
	if dir == domain.DirectionSell {
		return stop > ltp
	}
	return stop < ltp
}

const (
	correlationSuffix = "_AUTO"
	// Dhan caps correlation ids at 25 characters.
	maxCorrelationLen = 25
)

// correlationID tags an order with the instrument name. Long names are cut
// on a rune boundary so the suffix always survives intact.
func correlationID(name string) string {
	runes := []rune(name)
	if keep := maxCorrelationLen - len(correlationSuffix); len(runes) > keep {
		runes = runes[:keep]
	}
	return string(runes) + correlationSuffix
}
