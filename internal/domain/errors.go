package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrOrderClosed       = errors.New("order already closed")
	ErrInvalidBuffer     = errors.New("exit buffer must be a positive magnitude")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrBrokerRejected    = errors.New("broker rejected request")
	ErrStaleSignals      = errors.New("signals were not published today")
	ErrInvalidInstrument = errors.New("invalid instrument id")
)

// Retryable reports whether a failed broker call is worth repeating.
// Throttling, transport failures and server errors are; explicit refusals,
// bad credentials, unknown orders, closed orders, malformed instrument ids
// and cancelled contexts are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrBrokerRejected),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrOrderClosed),
		errors.Is(err, ErrInvalidInstrument):
		return false
	default:
		return true
	}
}
