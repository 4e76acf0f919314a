package domain

import (
	"fmt"
	"math"
	"strings"
)

// Direction is the side of an intraday position.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// ParseDirection normalises a raw direction string (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return DirectionBuy, nil
	case "SELL", "SHORT":
		return DirectionSell, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Sign returns +1 for long positions and -1 for short positions. Price levels
// beyond entry are computed as entry + Sign()*distance.
func (d Direction) Sign() float64 {
	if d == DirectionSell {
		return -1
	}
	return 1
}

// Favorable reports whether price has reached level in the profitable
// direction for d.
func (d Direction) Favorable(price, level float64) bool {
	if d == DirectionSell {
		return price <= level
	}
	return price >= level
}

// Signal is one externally supplied breakout candidate. Target is zero when
// the signal carries no explicit target.
type Signal struct {
	InstrumentID string
	Name         string
	Direction    Direction
	Entry        float64
	Stop         float64
	Target       float64
	Quantity     int
}

// RiskPerShare returns |entry - stop|.
func (s Signal) RiskPerShare() float64 {
	return math.Abs(s.Entry - s.Stop)
}

// SLPercent returns the stop distance as a percentage of entry. It returns
// +Inf when entry is not positive.
func (s Signal) SLPercent() float64 {
	if s.Entry <= 0 {
		return math.Inf(1)
	}
	return s.RiskPerShare() / s.Entry * 100
}

// Candidate is a ranked signal.
type Candidate struct {
	Signal
	SLPercent float64
	Rank      int
}
