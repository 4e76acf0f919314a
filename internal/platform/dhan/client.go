// Package dhan is the REST client for the Dhan v2 trading API, covering the
// quote feed and super (bracket) orders.
package dhan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

const (
	DefaultBaseURL = "https://api.dhan.co/v2"

	// The market quote endpoint allows one request per second.
	defaultQuoteRPS = 1.0
	defaultOrderRPS = 10.0
)

// Config holds connection and throttling parameters.
type Config struct {
	BaseURL     string
	ClientID    string
	AccessToken string
	Timeout     time.Duration
	QuoteRPS    float64
	OrderRPS    float64
}

// Client is a rate-limited Dhan API client. Quote, order and account
// endpoints are throttled independently.
type Client struct {
	baseURL      string
	clientID     string
	accessToken  string
	httpClient   *http.Client
	quoteLimiter *rate.Limiter
	orderLimiter *rate.Limiter
}

// NewClient creates a Client. Zero-valued fields fall back to production
// defaults.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	quoteRPS := cfg.QuoteRPS
	if quoteRPS <= 0 {
		quoteRPS = defaultQuoteRPS
	}
	orderRPS := cfg.OrderRPS
	if orderRPS <= 0 {
		orderRPS = defaultOrderRPS
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     cfg.ClientID,
		accessToken:  cfg.AccessToken,
		httpClient:   &http.Client{Timeout: timeout},
		quoteLimiter: rate.NewLimiter(rate.Limit(quoteRPS), 1),
		orderLimiter: rate.NewLimiter(rate.Limit(orderRPS), int(orderRPS)),
	}
}

// ClientID returns the account id sent with order requests.
func (c *Client) ClientID() string {
	return c.clientID
}

// Quotes fetches the last price and net change for ids within one segment.
// Instruments the API omits are absent from the returned map.
func (c *Client) Quotes(ctx context.Context, segment domain.Segment, ids []string) (map[string]domain.Quote, error) {
	if len(ids) == 0 {
		return map[string]domain.Quote{}, nil
	}

	numeric := make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dhan: quotes: security id %q: %w", id, domain.ErrInvalidInstrument)
		}
		numeric = append(numeric, n)
	}

	body := map[string][]int64{string(segment): numeric}

	var resp quoteResponse
	if err := c.do(ctx, c.quoteLimiter, http.MethodPost, "/marketfeed/quote", body, &resp); err != nil {
		return nil, fmt.Errorf("dhan: quotes: %w", err)
	}
	if resp.Status != "" && !strings.EqualFold(resp.Status, "success") {
		return nil, fmt.Errorf("dhan: quotes: status %q", resp.Status)
	}

	out := make(map[string]domain.Quote, len(ids))
	for id, q := range resp.Data[string(segment)] {
		quote := domain.Quote{
			SecurityID: id,
			Segment:    segment,
			LastPrice:  q.LastPrice,
		}
		if q.NetChange != nil {
			quote.NetChange = *q.NetChange
			quote.HasNetChange = true
		}
		out[id] = quote
	}
	return out, nil
}

// AvailableBalance returns the tradable cash balance.
func (c *Client) AvailableBalance(ctx context.Context) (float64, error) {
	var resp fundLimitResponse
	if err := c.do(ctx, c.orderLimiter, http.MethodGet, "/fundlimit", nil, &resp); err != nil {
		return 0, fmt.Errorf("dhan: fund limit: %w", err)
	}
	return resp.AvailableBalance, nil
}

// PlaceSuperOrder submits a bracket order. The client id is filled in when
// empty. A REJECTED status is returned as an error wrapping
// domain.ErrBrokerRejected.
func (c *Client) PlaceSuperOrder(ctx context.Context, req SuperOrderRequest) (OrderResponse, error) {
	if req.DhanClientID == "" {
		req.DhanClientID = c.clientID
	}
	var resp OrderResponse
	if err := c.do(ctx, c.orderLimiter, http.MethodPost, "/super/orders", req, &resp); err != nil {
		return OrderResponse{}, fmt.Errorf("dhan: place super order: %w", err)
	}
	if err := checkOrderStatus(resp); err != nil {
		return resp, fmt.Errorf("dhan: place super order: %w", err)
	}
	return resp, nil
}

// ModifySuperOrder changes one leg of an open super order.
func (c *Client) ModifySuperOrder(ctx context.Context, req ModifySuperOrderRequest) (OrderResponse, error) {
	if req.DhanClientID == "" {
		req.DhanClientID = c.clientID
	}
	path := "/super/orders/" + req.OrderID
	var resp OrderResponse
	if err := c.do(ctx, c.orderLimiter, http.MethodPut, path, req, &resp); err != nil {
		return OrderResponse{}, fmt.Errorf("dhan: modify %s %s: %w", req.OrderID, req.LegName, err)
	}
	if err := checkOrderStatus(resp); err != nil {
		return resp, fmt.Errorf("dhan: modify %s %s: %w", req.OrderID, req.LegName, err)
	}
	return resp, nil
}

// CancelSuperOrderLeg cancels one leg. Cancelling the entry leg cancels the
// whole super order.
func (c *Client) CancelSuperOrderLeg(ctx context.Context, orderID string, leg domain.Leg) (OrderResponse, error) {
	path := fmt.Sprintf("/super/orders/%s/%s", orderID, leg)
	var resp OrderResponse
	if err := c.do(ctx, c.orderLimiter, http.MethodDelete, path, nil, &resp); err != nil {
		return OrderResponse{}, fmt.Errorf("dhan: cancel %s %s: %w", orderID, leg, err)
	}
	return resp, nil
}

func checkOrderStatus(resp OrderResponse) error {
	if strings.EqualFold(resp.OrderStatus, StatusRejected) {
		return fmt.Errorf("%w: order %s status %s", domain.ErrBrokerRejected, resp.OrderID, resp.OrderStatus)
	}
	return nil
}

// do performs one rate-limited JSON request and decodes a 2xx body into out.
// Non-2xx responses are returned as *APIError.
func (c *Client) do(ctx context.Context, limiter *rate.Limiter, method, path string, body, out any) error {
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("access-token", c.accessToken)
	req.Header.Set("client-id", c.clientID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(respBody, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
