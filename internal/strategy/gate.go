package strategy

import "github.com/alanyoungcy/breakoutbot/internal/domain"

// Index-move tolerances in index points. Long entries tolerate a deeper index
// drop than short entries tolerate a rally.
const (
	BuyTolerance  = 50.0
	SellTolerance = 30.0
)

// Gate admits a signal direction based on the reference index move.
type Gate struct {
	BuyTolerance  float64
	SellTolerance float64
}

// DefaultGate returns a Gate using BuyTolerance and SellTolerance.
func DefaultGate() Gate {
	return Gate{BuyTolerance: BuyTolerance, SellTolerance: SellTolerance}
}

// Admit reports whether a signal in direction dir may be traded given the
// index last price and previous close. Boundaries are inclusive.
func (g Gate) Admit(dir domain.Direction, ltp, prevClose float64) bool {
	switch dir {
	case domain.DirectionBuy:
		return ltp >= prevClose-g.BuyTolerance
	case domain.DirectionSell:
		return ltp <= prevClose+g.SellTolerance
	default:
		return false
	}
}
