package dhan

import (
	"context"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// Broker adapts Client to domain.BracketBroker using Dhan super orders on the
// NSE equity segment with the intraday product.
type Broker struct {
	client *Client
}

// NewBroker wraps c.
func NewBroker(c *Client) *Broker {
	return &Broker{client: c}
}

// PlaceBracket submits req as a super order.
func (b *Broker) PlaceBracket(ctx context.Context, req domain.BracketRequest) (domain.ModifyResult, error) {
	orderType := req.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeLimit
	}
	resp, err := b.client.PlaceSuperOrder(ctx, SuperOrderRequest{
		CorrelationID:   req.CorrelationID,
		TransactionType: string(req.Direction),
		ExchangeSegment: string(domain.SegmentEquity),
		ProductType:     ProductIntraday,
		OrderType:       string(orderType),
		SecurityID:      req.InstrumentID,
		Quantity:        req.Quantity,
		Price:           req.Price,
		TargetPrice:     req.Target,
		StopLossPrice:   req.Stop,
		TrailingJump:    req.TrailingJump,
	})
	if err != nil {
		return domain.ModifyResult{}, err
	}
	return domain.ModifyResult{OrderID: resp.OrderID, Leg: domain.LegEntry, Status: resp.OrderStatus}, nil
}

// ModifyLeg modifies one leg of a super order.
func (b *Broker) ModifyLeg(ctx context.Context, mod domain.LegModification) (domain.ModifyResult, error) {
	resp, err := b.client.ModifySuperOrder(ctx, ModifySuperOrderRequest{
		OrderID:       mod.OrderID,
		OrderType:     string(mod.OrderType),
		LegName:       string(mod.Leg),
		Quantity:      mod.Quantity,
		Price:         mod.Price,
		TargetPrice:   mod.Target,
		StopLossPrice: mod.Stop,
		TrailingJump:  mod.TrailingJump,
	})
	if err != nil {
		return domain.ModifyResult{}, err
	}
	return domain.ModifyResult{OrderID: resp.OrderID, Leg: mod.Leg, Status: resp.OrderStatus}, nil
}

// CancelLeg cancels one leg of a super order.
func (b *Broker) CancelLeg(ctx context.Context, orderID string, leg domain.Leg) (domain.ModifyResult, error) {
	resp, err := b.client.CancelSuperOrderLeg(ctx, orderID, leg)
	if err != nil {
		return domain.ModifyResult{}, err
	}
	return domain.ModifyResult{OrderID: resp.OrderID, Leg: leg, Status: resp.OrderStatus}, nil
}

// Compile-time interface check.
var _ domain.BracketBroker = (*Broker)(nil)
