package domain

import "time"

// PositionStatus tracks a managed position through its intraday lifecycle.
type PositionStatus string

const (
	PositionStatusOpen        PositionStatus = "OPEN"
	PositionStatusPartialDone PositionStatus = "PARTIAL_DONE"
	PositionStatusExited      PositionStatus = "EXITED"
)

// ExitReason records why a position was flattened.
type ExitReason string

const (
	ExitReasonNone       ExitReason = ""
	ExitReasonStopBreach ExitReason = "stop_breach"
	ExitReasonSquareOff  ExitReason = "square_off"
	ExitReasonCancelled  ExitReason = "cancelled"
	ExitReasonShutdown   ExitReason = "shutdown"
	ExitReasonBrokerDone ExitReason = "broker_closed"
)

// TradeRecord is the persisted journal entry for one placed bracket order.
type TradeRecord struct {
	ID           string
	OrderID      string
	InstrumentID string
	Name         string
	Direction    Direction
	Entry        float64
	Stop         float64
	Target       float64
	Quantity     int
	Status       PositionStatus
	ExitPrice    *float64
	ExitReason   ExitReason
	OpenedAt     time.Time
	ClosedAt     *time.Time
}
