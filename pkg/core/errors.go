package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType categorizes exchange errors for retry decisions. The transport
// never retries on its own; callers inspect the type on their next tick.
type ErrorType int

// Error type constants.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork indicates transport failure (connection, non-JSON body).
	ErrorTypeNetwork
	// ErrorTypeTimeout indicates the request exceeded its deadline.
	ErrorTypeTimeout
	// ErrorTypeRateLimit indicates the exchange throttled the request.
	ErrorTypeRateLimit
	// ErrorTypeAuthentication indicates a rejected signature or credential.
	ErrorTypeAuthentication
	// ErrorTypeBadRequest indicates invalid request parameters.
	ErrorTypeBadRequest
	// ErrorTypeServerError indicates an exchange-side failure.
	ErrorTypeServerError
	// ErrorTypeInsufficientFunds indicates the account lacks margin.
	ErrorTypeInsufficientFunds
	// ErrorTypeInvalidOrder indicates the order violates exchange rules.
	ErrorTypeInvalidOrder
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"NETWORK",
		"TIMEOUT",
		"RATE_LIMIT",
		"AUTHENTICATION",
		"BAD_REQUEST",
		"SERVER_ERROR",
		"INSUFFICIENT_FUNDS",
		"INVALID_ORDER",
	}[t]
}

// Sentinel errors for common conditions.
var (
	// ErrClientClosed is returned when using a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrNotConnected is returned when the websocket is not open.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrNoCredentials is returned when a signed call lacks credentials.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrCircuitBreakerOpen is returned when the transport breaker rejects a call.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrStopPriceInvalid is returned when a stop price sits on the wrong
	// side of the last traded price for the requested direction.
	ErrStopPriceInvalid = errors.New("stop price on wrong side of last price")
	// ErrNoMarketData is returned when an operation needs a snapshot that
	// has not arrived yet.
	ErrNoMarketData = errors.New("market data not available")
)

// ExchangeError is a structured error from the exchange.
type ExchangeError struct {
	// Type categorizes the error.
	Type ErrorType `json:"type"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"status_code"`
	// Code is the exchange-specific numeric error code, if any.
	Code int `json:"code"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange: %s (%d/%d): %s", e.Type, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange: %s (%d): %s", e.Type, e.StatusCode, e.Message)
}

// NewExchangeError creates an ExchangeError stamped with the current time.
func NewExchangeError(errorType ErrorType, statusCode, code int, message string) *ExchangeError {
	return &ExchangeError{
		Type:       errorType,
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Timestamp:  time.Now(),
	}
}

// IsAuthenticationError returns true for rejected signatures or credentials.
// These are not retryable without operator intervention.
func IsAuthenticationError(err error) bool {
	var e *ExchangeError
	return errors.As(err, &e) && e.Type == ErrorTypeAuthentication
}

// IsTransportError returns true for network-level failures, which callers
// may retry on their next tick.
func IsTransportError(err error) bool {
	var e *ExchangeError
	return errors.As(err, &e) && (e.Type == ErrorTypeNetwork || e.Type == ErrorTypeTimeout)
}

// IsTerminalError returns true for errors that will not succeed on retry.
func IsTerminalError(err error) bool {
	var e *ExchangeError
	return errors.As(err, &e) &&
		(e.Type == ErrorTypeInsufficientFunds || e.Type == ErrorTypeInvalidOrder || e.Type == ErrorTypeBadRequest)
}
