// Package rest implements the signed HTTP transport for the exchange REST
// API. It owns request signing, rate limiting, error classification and an
// optional circuit breaker; endpoint semantics live in pkg/aster.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"nakula/internal/circuitbreaker"
	"nakula/internal/ratelimit"
	"nakula/pkg/core"
)

// apiKeyHeader carries the API key on every signed request.
const apiKeyHeader = "X-MBX-APIKEY"

// BucketOrders is the rate-limit bucket for order placement and cancelation.
// Exchanges throttle order traffic separately from general request weight.
const BucketOrders = "orders"

// Config configures the transport.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Credentials *core.Credentials
	// RecvWindow is appended to every signed request, in milliseconds.
	RecvWindow int64
	Limiter    *ratelimit.Limiter
	Breaker    *circuitbreaker.Breaker
	Logger     zerolog.Logger
}

// Client executes public and signed requests against a single base URL.
// It never retries; callers own retry policy.
type Client struct {
	client  *resty.Client
	creds   *core.Credentials
	recvWin int64
	limiter *ratelimit.Limiter
	breaker *circuitbreaker.Breaker
	logger  zerolog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
}

// CallOption adjusts a single request.
type CallOption func(*callOpts)

type callOpts struct {
	bucket string
}

// WithBucket routes the request through a named rate-limit bucket in
// addition to the global limiter.
func WithBucket(name string) CallOption {
	return func(o *callOpts) {
		o.bucket = name
	}
}

// New builds a Client. The limiter is required; the breaker is optional
// and disabled when nil.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest: base URL is required")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rest: rate limiter is required")
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	// Cancel endpoints are signed DELETEs carrying a form body; resty
	// drops DELETE payloads unless explicitly allowed.
	client.SetAllowMethodDeletePayload(true)

	logger := cfg.Logger
	client.AddResponseMiddleware(func(_ *resty.Client, resp *resty.Response) error {
		logger.Debug().
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL).
			Int("status", resp.StatusCode()).
			Int("size", len(resp.Bytes())).
			Msg("http response")
		return nil
	})

	return &Client{
		client:  client,
		creds:   cfg.Credentials,
		recvWin: cfg.RecvWindow,
		limiter: cfg.Limiter,
		breaker: cfg.Breaker,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Close releases the underlying transport. Subsequent calls return
// core.ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

// Public executes an unsigned request. Params always travel in the query
// string. When result is non-nil the response body is decoded into it.
func (c *Client) Public(ctx context.Context, method, path string, params url.Values, result any, opts ...CallOption) error {
	return c.execute(ctx, method, path, params, result, false, opts...)
}

// Signed executes an authenticated request. The transport appends timestamp
// and recvWindow, signs the canonical encoding, and sends params as query
// string for GET and as form body otherwise.
func (c *Client) Signed(ctx context.Context, method, path string, params url.Values, result any, opts ...CallOption) error {
	if c.creds == nil {
		return core.ErrNoCredentials
	}
	return c.execute(ctx, method, path, params, result, true, opts...)
}

func (c *Client) execute(ctx context.Context, method, path string, params url.Values, result any, signed bool, opts ...CallOption) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return core.ErrClientClosed
	}
	c.mu.RUnlock()

	var co callOpts
	for _, opt := range opts {
		opt(&co)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	if co.bucket != "" {
		if err := c.limiter.WaitBucket(ctx, co.bucket); err != nil {
			return fmt.Errorf("rate limit %q: %w", co.bucket, err)
		}
	}

	if c.breaker != nil && !c.breaker.Allow() {
		return fmt.Errorf("%s %s: %w", method, path, core.ErrCircuitBreakerOpen)
	}

	if params == nil {
		params = url.Values{}
	}

	req := c.client.R().SetContext(ctx)

	if signed {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		if c.recvWin > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.recvWin, 10))
		}
		payload := params.Encode() + "&signature=" + Sign(c.creds.SecretKey, params)
		req.SetHeader(apiKeyHeader, c.creds.APIKey)
		if method == http.MethodGet {
			req.SetQueryString(payload)
		} else {
			req.SetHeader("Content-Type", "application/x-www-form-urlencoded")
			req.SetBody(payload)
		}
	} else if len(params) > 0 {
		req.SetQueryString(params.Encode())
	}

	resp, err := req.Execute(method, path)
	failure := err != nil || (resp != nil && resp.StatusCode() >= http.StatusInternalServerError)
	if c.breaker != nil {
		c.breaker.Record(!failure)
	}
	if err != nil {
		return c.transportError(method, path, err)
	}

	if resp.IsError() {
		return c.apiError(resp)
	}

	if result != nil {
		if err := sonic.Unmarshal(resp.Bytes(), result); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) transportError(method, path string, err error) error {
	typ := core.ErrorTypeNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		typ = core.ErrorTypeTimeout
	}
	return fmt.Errorf("%s %s: %w", method, path, core.NewExchangeError(typ, 0, 0, err.Error()))
}

// apiError converts a non-2xx response into a typed ExchangeError. The
// exchange encodes failures as {"code":<int>,"msg":<string>}; a body that
// does not parse is reported with the raw text.
func (c *Client) apiError(resp *resty.Response) error {
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	msg := string(resp.Bytes())
	if err := sonic.Unmarshal(resp.Bytes(), &body); err == nil && body.Msg != "" {
		msg = body.Msg
	}

	exErr := core.NewExchangeError(classify(resp.StatusCode(), body.Code), resp.StatusCode(), body.Code, msg)
	c.logger.Warn().
		Str("method", resp.Request.Method).
		Str("url", resp.Request.URL).
		Int("status", resp.StatusCode()).
		Int("code", body.Code).
		Str("type", exErr.Type.String()).
		Msg("exchange error")
	return fmt.Errorf("%s %s: %w", resp.Request.Method, resp.Request.URL, exErr)
}

// classify maps HTTP status and exchange error code to an ErrorType. The
// exchange code wins over the status when both are present.
func classify(status, code int) core.ErrorType {
	switch code {
	case -1003:
		return core.ErrorTypeRateLimit
	case -1021, -1022, -2014, -2015:
		return core.ErrorTypeAuthentication
	case -2019:
		return core.ErrorTypeInsufficientFunds
	case -2010, -2011, -2013, -2021, -2022, -4164:
		return core.ErrorTypeInvalidOrder
	}

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return core.ErrorTypeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.ErrorTypeAuthentication
	case status >= http.StatusInternalServerError:
		return core.ErrorTypeServerError
	case status >= http.StatusBadRequest:
		return core.ErrorTypeBadRequest
	default:
		return core.ErrorTypeUnknown
	}
}
