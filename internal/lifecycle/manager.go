// Package lifecycle is the pure state machine that manages an open intraday
// position. Half is booked at one risk unit and the stop later trails to entry.
package lifecycle

import (
	"math"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// DefaultRewardMultiple is the target distance in risk units.
const DefaultRewardMultiple = 1.5

// Action is the management step emitted for one price observation.
type Action string

const (
	ActionNone        Action = "NONE"
	ActionPartialBook Action = "PARTIAL_BOOK"
	ActionTrailSL     Action = "TRAIL_SL"
	ActionExitTrade   Action = "EXIT_TRADE"
)

// Position is the lifecycle view of a placed bracket order. OneRiskUnit and
// Target are fixed at creation from the original entry and stop.
type Position struct {
	Direction   domain.Direction
	Entry       float64
	Stop        float64
	Quantity    int
	OneRiskUnit float64
	Target      float64
	PartialDone bool
	StopTrailed bool
	State       domain.PositionStatus
	ExitReason  domain.ExitReason
}

// New builds the initial OPEN position from the values the broker accepted.
// rr <= 0 selects DefaultRewardMultiple.
func New(order domain.BracketOrder, rr float64) Position {
	if rr <= 0 {
		rr = DefaultRewardMultiple
	}
	risk := math.Abs(order.Entry - order.Stop)
	sign := order.Direction.Sign()
	return Position{
		Direction:   order.Direction,
		Entry:       order.Entry,
		Stop:        order.Stop,
		Quantity:    order.Quantity,
		OneRiskUnit: order.Entry + sign*risk,
		Target:      order.Entry + sign*rr*risk,
		State:       domain.PositionStatusOpen,
	}
}

// Observation is one input to Step. Exit is set by the caller to request an
// unconditional exit (square-off timeout, external cancel, shutdown).
type Observation struct {
	Price float64
	Exit  domain.ExitReason
}

// Step returns the next position and the single action to perform. The first
// matching rule wins: exit request or stop breach, then partial booking at
// one risk unit, then stop trail at the target. EXITED is terminal.
func Step(p Position, obs Observation) (Position, Action) {
	if p.State == domain.PositionStatusExited {
		return p, ActionNone
	}

	if obs.Exit != domain.ExitReasonNone {
		return exit(p, obs.Exit), ActionExitTrade
	}
	if obs.Price <= 0 {
		return p, ActionNone
	}
	if stopBreached(p, obs.Price) {
		return exit(p, domain.ExitReasonStopBreach), ActionExitTrade
	}

	if p.State == domain.PositionStatusOpen && p.Direction.Favorable(obs.Price, p.OneRiskUnit) {
		p.PartialDone = true
		p.State = domain.PositionStatusPartialDone
		p.Quantity = PartialQuantity(p.Quantity)
		return p, ActionPartialBook
	}

	if !p.StopTrailed && p.Direction.Favorable(obs.Price, p.Target) {
		p.StopTrailed = true
		p.Stop = p.Entry
		return p, ActionTrailSL
	}

	return p, ActionNone
}

// PartialQuantity is the entry quantity left open after booking half.
func PartialQuantity(qty int) int {
	return qty / 2
}

func stopBreached(p Position, price float64) bool {
	if p.Direction == domain.DirectionSell {
		return price >= p.Stop
	}
	return price <= p.Stop
}

func exit(p Position, reason domain.ExitReason) Position {
	p.State = domain.PositionStatusExited
	p.ExitReason = reason
	return p
}
