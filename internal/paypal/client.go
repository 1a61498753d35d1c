// Package paypal talks to the PayPal Orders v2 API and builds the order
// payloads the checkout flow sends to it.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/idempotency"
)

const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"

	DefaultTimeout = 30 * time.Second

	maxRequestIDLen = 108
	maxBodyBytes    = 1 << 20
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the instrumented default client. Its Timeout is
// left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithReplayStore remembers successful order creations by correlation token.
func WithReplayStore(s idempotency.Store) Option {
	return func(c *Client) { c.replay = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenSource
	replay     idempotency.Store
	logger     *slog.Logger
	flights    singleflight.Group
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	ts, err := NewTokenSource(c.baseURL, cfg.ClientID, cfg.ClientSecret, c.httpClient)
	if err != nil {
		return nil, err
	}
	c.tokens = ts
	return c, nil
}

type replayRecord struct {
	Fingerprint string      `json:"fingerprint"`
	Result      OrderResult `json:"result"`
}

// CreateOrder submits an order. requestID is sent as PayPal-Request-Id, so
// repeating a call with the same requestID and body yields the same order.
// Concurrent identical calls in this process share one remote request.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest, requestID string) (OrderResult, error) {
	if requestID == "" {
		return OrderResult{}, ErrMissingRequestID
	}
	if len(requestID) > maxRequestIDLen {
		return OrderResult{}, ErrRequestIDTooLong
	}

	body, err := json.Marshal(req)
	if err != nil {
		return OrderResult{}, fmt.Errorf("encode order request: %w", err)
	}
	fp := strconv.FormatUint(xxhash.Sum64(body), 16)

	if res, ok := c.lookupReplay(ctx, requestID, fp); ok {
		return res, nil
	}

	res, shared, err := c.shared(ctx, "create-order", "create:"+requestID+":"+fp, func(ctx context.Context) (OrderResult, error) {
		return c.do(ctx, "create-order", http.MethodPost, "/v2/checkout/orders", body, map[string]string{
			"PayPal-Request-Id": requestID,
			"Prefer":            "return=minimal",
		})
	})
	if err != nil {
		return OrderResult{}, err
	}
	if shared {
		c.logger.DebugContext(ctx, "paypal create-order coalesced", "request_id", requestID)
	}

	if res.Status == StatusOK {
		c.storeReplay(ctx, requestID, fp, res)
	}
	return res, nil
}

// CaptureOrder captures an approved order and returns the full order
// representation including purchase_units[].payments.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (OrderResult, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	res, _, err := c.shared(ctx, "capture-order", "capture:"+orderID, func(ctx context.Context) (OrderResult, error) {
		return c.do(ctx, "capture-order", http.MethodPost, path, nil, map[string]string{
			"Prefer": "return=representation",
		})
	})
	return res, err
}

// shared runs fn once per key for all concurrent callers. The call is
// detached from any single caller's cancellation and bounded by the HTTP
// client timeout; each caller still stops waiting when its own ctx ends.
func (c *Client) shared(ctx context.Context, op, key string, fn func(context.Context) (OrderResult, error)) (OrderResult, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return OrderResult{}, r.Shared, r.Err
		}
		return r.Val.(OrderResult), r.Shared, nil
	case <-ctx.Done():
		return OrderResult{}, false, &TransportError{Op: op, Err: ctx.Err()}
	}
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (OrderResult, error) {
	return c.do(ctx, "get-order", http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, headers map[string]string) (OrderResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return OrderResult{}, err
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return OrderResult{}, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "paypal request failed", "op", op, "error", err)
		return OrderResult{}, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return OrderResult{}, &TransportError{Op: op, Err: err}
	}

	c.logger.InfoContext(ctx, "paypal request",
		"op", op,
		"status", resp.StatusCode,
		"debug_id", resp.Header.Get("Paypal-Debug-Id"),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
		return OrderResult{}, &TransportError{Op: op, Err: ErrUnauthorized}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return OrderResult{Status: StatusError, Detail: decodeErrorDetail(resp, raw)}, nil
	}

	var order Order
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &order); err != nil {
			return OrderResult{Status: StatusError, Detail: &ErrorDetail{
				StatusCode: resp.StatusCode,
				Name:       "INVALID_RESPONSE",
				Message:    fmt.Sprintf("decode %s response: %v", op, err),
				DebugID:    resp.Header.Get("Paypal-Debug-Id"),
			}}, nil
		}
	}
	return OrderResult{Status: StatusOK, Order: order}, nil
}

func decodeErrorDetail(resp *http.Response, raw []byte) *ErrorDetail {
	d := &ErrorDetail{}
	if err := json.Unmarshal(raw, d); err != nil || d.Name == "" {
		d.Name = strings.ToUpper(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
		if d.Message == "" {
			d.Message = strings.TrimSpace(string(raw))
		}
	}
	d.StatusCode = resp.StatusCode
	if d.DebugID == "" {
		d.DebugID = resp.Header.Get("Paypal-Debug-Id")
	}
	return d
}

func (c *Client) lookupReplay(ctx context.Context, requestID, fp string) (OrderResult, bool) {
	if c.replay == nil {
		return OrderResult{}, false
	}
	raw, ok, err := c.replay.Get(ctx, requestID)
	if err != nil {
		c.logger.WarnContext(ctx, "replay store lookup failed", "request_id", requestID, "error", err)
		return OrderResult{}, false
	}
	if !ok {
		return OrderResult{}, false
	}
	var rec replayRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.logger.WarnContext(ctx, "replay record unreadable", "request_id", requestID, "error", err)
		return OrderResult{}, false
	}
	if rec.Fingerprint != fp {
		// Same token, different cart: let PayPal decide.
		c.logger.InfoContext(ctx, "replay fingerprint mismatch", "request_id", requestID)
		return OrderResult{}, false
	}
	rec.Result.Replayed = true
	return rec.Result, true
}

func (c *Client) storeReplay(ctx context.Context, requestID, fp string, res OrderResult) {
	if c.replay == nil {
		return
	}
	raw, err := json.Marshal(replayRecord{Fingerprint: fp, Result: res})
	if err == nil {
		err = c.replay.Put(ctx, requestID, raw)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "replay store write failed", "request_id", requestID, "error", err)
	}
}

// IsTransport reports whether err is an infrastructure failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
