package core

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config contains all options for one exchange client instance. A client
// serves a single symbol and a single account.
type Config struct {
	// Symbol is the contract the client trades (e.g. "BTCUSDT").
	Symbol string `json:"symbol" validate:"required"`
	// Credentials authenticate signed requests. Required for trading and
	// the private stream; public market data works without them.
	Credentials *Credentials `json:"credentials,omitempty"`

	// BaseURL is the REST endpoint.
	BaseURL string `json:"base_url" validate:"required,url"`
	// WebsocketURL is the stream endpoint.
	WebsocketURL string `json:"websocket_url" validate:"required"`

	// Timeout bounds individual HTTP requests.
	Timeout time.Duration `json:"timeout" validate:"min=1ms"`
	// RecvWindow is the signed-request validity window in milliseconds.
	RecvWindow int64 `json:"recv_window" validate:"min=1"`

	// HeartbeatInterval is how often the session emits an unsolicited
	// keepalive frame while open.
	HeartbeatInterval time.Duration `json:"heartbeat_interval" validate:"min=1s"`
	// ListenKeyInterval is how often the listen key is renewed. It must
	// stay comfortably below the exchange's ~60 minute expiry.
	ListenKeyInterval time.Duration `json:"listen_key_interval" validate:"min=1s"`
	// ReconnectDelay is the fixed wait before a reconnect attempt.
	ReconnectDelay time.Duration `json:"reconnect_delay" validate:"min=1ms"`
	// BootstrapRetries is the number of initialization attempts before the
	// socket is force-closed to trigger the reconnect path.
	BootstrapRetries int `json:"bootstrap_retries" validate:"min=1"`
	// BootstrapBackoff is the per-attempt backoff unit; attempt n waits
	// n times this value.
	BootstrapBackoff time.Duration `json:"bootstrap_backoff" validate:"min=1ms"`

	// PollInterval is the cadence of the authoritative account and
	// open-orders poll.
	PollInterval time.Duration `json:"poll_interval" validate:"min=100ms"`
	// KlineLimit caps the in-memory candle series.
	KlineLimit int `json:"kline_limit" validate:"min=1"`

	// OrderRecoveryTimeout releases an order-type lock whose pending order
	// never produced a status change.
	OrderRecoveryTimeout time.Duration `json:"order_recovery_timeout" validate:"min=100ms"`

	// RateLimitRequests and RateLimitPeriod throttle REST calls.
	RateLimitRequests int           `json:"rate_limit_requests" validate:"min=1"`
	RateLimitPeriod   time.Duration `json:"rate_limit_period" validate:"min=1ms"`

	// CircuitBreakerEnabled guards the REST transport against a persistently
	// failing exchange. Disabled by default: callers own retry policy.
	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled"`
	CircuitBreakerFailThreshold    int           `json:"circuit_breaker_fail_threshold"`
	CircuitBreakerSuccessThreshold int           `json:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout"`
}

// DefaultConfig returns a Config with production endpoints and the standard
// session cadence: 4m heartbeat, 45m listen-key renewal, 10s state poll,
// 3s order recovery, 2s reconnect delay.
func DefaultConfig(symbol string) *Config {
	return &Config{
		Symbol:       symbol,
		BaseURL:      "https://fapi.asterdex.com",
		WebsocketURL: "wss://fstream.asterdex.com/ws",

		Timeout:    10 * time.Second,
		RecvWindow: 5000,

		HeartbeatInterval: 4 * time.Minute,
		ListenKeyInterval: 45 * time.Minute,
		ReconnectDelay:    2 * time.Second,
		BootstrapRetries:  5,
		BootstrapBackoff:  2 * time.Second,

		PollInterval: 10 * time.Second,
		KlineLimit:   100,

		OrderRecoveryTimeout: 3000 * time.Millisecond,

		RateLimitRequests: 1200,
		RateLimitPeriod:   time.Minute,

		CircuitBreakerFailThreshold:    5,
		CircuitBreakerSuccessThreshold: 2,
		CircuitBreakerTimeout:          30 * time.Second,
	}
}

var validate = validator.New()

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// WithCredentials sets the API credentials and returns the config for chaining.
func (c *Config) WithCredentials(creds *Credentials) *Config {
	c.Credentials = creds
	return c
}

// WithEndpoints overrides the REST and websocket endpoints.
func (c *Config) WithEndpoints(baseURL, wsURL string) *Config {
	c.BaseURL = baseURL
	c.WebsocketURL = wsURL
	return c
}

// WithTimeout sets the HTTP request timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRateLimit sets the REST rate limit and returns the config for chaining.
func (c *Config) WithRateLimit(requests int, period time.Duration) *Config {
	c.RateLimitRequests = requests
	c.RateLimitPeriod = period
	return c
}
