package dhan

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// --------------------------------------------------------------------------
// Market feed DTOs
// --------------------------------------------------------------------------

// quoteResponse is the body of POST /marketfeed/quote and /marketfeed/ltp.
// data is keyed by exchange segment, then by security id.
type quoteResponse struct {
	Data   map[string]map[string]apiQuote `json:"data"`
	Status string                         `json:"status"`
}

// NetChange is a pointer so an omitted field can be told apart from zero.
type apiQuote struct {
	LastPrice float64  `json:"last_price"`
	NetChange *float64 `json:"net_change"`
}

// fundLimitResponse is the body of GET /fundlimit. The misspelled field name
// is what the API sends.
type fundLimitResponse struct {
	DhanClientID        string  `json:"dhanClientId"`
	AvailableBalance    float64 `json:"availabelBalance"`
	SodLimit            float64 `json:"sodLimit"`
	UtilizedAmount      float64 `json:"utilizedAmount"`
	WithdrawableBalance float64 `json:"withdrawableBalance"`
}

// --------------------------------------------------------------------------
// Super order DTOs
// --------------------------------------------------------------------------

// SuperOrderRequest is the body of POST /super/orders.
type SuperOrderRequest struct {
	DhanClientID    string  `json:"dhanClientId"`
	CorrelationID   string  `json:"correlationId,omitempty"`
	TransactionType string  `json:"transactionType"`
	ExchangeSegment string  `json:"exchangeSegment"`
	ProductType     string  `json:"productType"`
	OrderType       string  `json:"orderType"`
	SecurityID      string  `json:"securityId"`
	Quantity        int     `json:"quantity"`
	Price           float64 `json:"price"`
	TargetPrice     float64 `json:"targetPrice"`
	StopLossPrice   float64 `json:"stopLossPrice"`
	TrailingJump    float64 `json:"trailingJump"`
}

// ModifySuperOrderRequest is the body of PUT /super/orders/{order-id}. Only
// the fields relevant to LegName are sent.
type ModifySuperOrderRequest struct {
	DhanClientID  string   `json:"dhanClientId"`
	OrderID       string   `json:"orderId"`
	OrderType     string   `json:"orderType,omitempty"`
	LegName       string   `json:"legName"`
	Quantity      *int     `json:"quantity,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	TargetPrice   *float64 `json:"targetPrice,omitempty"`
	StopLossPrice *float64 `json:"stopLossPrice,omitempty"`
	TrailingJump  *float64 `json:"trailingJump,omitempty"`
}

// OrderResponse is returned by place, modify and cancel calls.
type OrderResponse struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
}

// Terminal or refused order statuses reported in OrderResponse.
const (
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
	StatusTraded    = "TRADED"
	StatusClosed    = "CLOSED"
)

// Product and transaction constants used in requests.
const (
	ProductIntraday = "INTRADAY"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// APIError is the error body returned by the Dhan API on non-2xx responses.
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"errorType"`
	Code       string `json:"errorCode"`
	Message    string `json:"errorMessage"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dhan: %d %s %s: %s", e.StatusCode, e.Type, e.Code, e.Message)
}

// Unwrap maps the API error onto the domain sentinel errors so callers can
// match with errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == 429:
		return domain.ErrRateLimited
	case e.StatusCode == 401 || e.StatusCode == 403:
		return domain.ErrUnauthorized
	case e.StatusCode == 404:
		return domain.ErrNotFound
	case orderClosedMessage(e.Message):
		return domain.ErrOrderClosed
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return domain.ErrBrokerRejected
	default:
		return nil
	}
}

func orderClosedMessage(msg string) bool {
	m := strings.ToLower(msg)
	if !strings.Contains(m, "already") {
		return false
	}
	return strings.Contains(m, "traded") || strings.Contains(m, "closed") || strings.Contains(m, "cancel")
}
