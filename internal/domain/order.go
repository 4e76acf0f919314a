package domain

import (
	"fmt"
	"time"
)

// Leg names one sub-order of a bracket (super) order.
type Leg string

const (
	LegEntry    Leg = "ENTRY_LEG"
	LegStopLoss Leg = "STOP_LOSS_LEG"
	LegTarget   Leg = "TARGET_LEG"
)

// OrderType is the broker-side pricing type of an order or leg.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// BracketOrder is a placed compound order: an entry leg with attached stop-loss
// and target legs. Entry, Stop and Quantity are the values actually submitted,
// which may differ from the originating signal.
type BracketOrder struct {
	OrderID       string
	CorrelationID string
	InstrumentID  string
	Name          string
	Direction     Direction
	Entry         float64
	Stop          float64
	Target        float64
	TrailingJump  float64
	Quantity      int
	PlacedAt      time.Time
}

// SizingResult is the executable quantity for one candidate along with the
// monetary risk and notional exposure it implies.
type SizingResult struct {
	Quantity   int
	RiskAmount float64
	Exposure   float64
	Leverage   float64
	Funds      float64
}

// RejectReason classifies why a placement did not reach the broker or was
// refused by it.
type RejectReason string

const (
	RejectPriceUnavailable RejectReason = "price_unavailable"
	RejectEntryCrossed     RejectReason = "entry_crossed"
	RejectInvalidStop      RejectReason = "invalid_stop"
	RejectZeroQuantity     RejectReason = "zero_quantity"
	RejectSizingFailed     RejectReason = "sizing_failed"
	RejectBroker           RejectReason = "broker_rejected"
)

// Rejection is the expected-failure outcome of a placement attempt.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "order rejected: " + string(r.Reason)
	}
	return fmt.Sprintf("order rejected: %s: %s", r.Reason, r.Detail)
}

// PlaceResult is either a placed order or a rejection, never both.
type PlaceResult struct {
	Order     BracketOrder
	Rejection *Rejection
}

// Placed reports whether the order reached the broker and was accepted.
func (r PlaceResult) Placed() bool {
	return r.Rejection == nil && r.Order.OrderID != ""
}

// ModifyResult is the broker acknowledgement of a leg modification or
// cancellation.
type ModifyResult struct {
	OrderID string
	Leg     Leg
	Status  string
}
