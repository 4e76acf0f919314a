package domain

import "context"

// BracketRequest is a broker-neutral compound order: entry with attached
// stop-loss and target legs.
type BracketRequest struct {
	CorrelationID string
	InstrumentID  string
	Direction     Direction
	OrderType     OrderType
	Quantity      int
	Price         float64
	Target        float64
	Stop          float64
	TrailingJump  float64
}

// LegModification changes one leg of an open bracket order. Nil fields are
// left untouched at the broker.
type LegModification struct {
	OrderID      string
	Leg          Leg
	OrderType    OrderType
	Quantity     *int
	Price        *float64
	Target       *float64
	Stop         *float64
	TrailingJump *float64
}

// BracketBroker is the broker capability used to place and manage bracket
// orders.
type BracketBroker interface {
	PlaceBracket(ctx context.Context, req BracketRequest) (ModifyResult, error)
	ModifyLeg(ctx context.Context, mod LegModification) (ModifyResult, error)
	CancelLeg(ctx context.Context, orderID string, leg Leg) (ModifyResult, error)
}
