package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of an exchange error.
type ErrorType int

// Error type constants categorize errors for retry and degradation decisions.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork indicates a transient transport failure.
	ErrorTypeNetwork
	// ErrorTypeTimeout indicates the request exceeded its deadline.
	ErrorTypeTimeout
	// ErrorTypeRateLimit indicates the exchange rejected the call for throughput.
	ErrorTypeRateLimit
	// ErrorTypeAuthentication indicates invalid or expired credentials.
	ErrorTypeAuthentication
	// ErrorTypeMalformedResponse indicates the response body could not be decoded.
	ErrorTypeMalformedResponse
	// ErrorTypeInvalidInstrument indicates the instrument does not exist.
	ErrorTypeInvalidInstrument
	// ErrorTypeBadRequest indicates invalid request parameters.
	ErrorTypeBadRequest
	// ErrorTypeServerError indicates a server-side failure.
	ErrorTypeServerError
	// ErrorTypeShutdown indicates the client is shutting down.
	ErrorTypeShutdown
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"NETWORK",
		"TIMEOUT",
		"RATE_LIMIT",
		"AUTHENTICATION",
		"MALFORMED_RESPONSE",
		"INVALID_INSTRUMENT",
		"BAD_REQUEST",
		"SERVER_ERROR",
		"SHUTDOWN",
	}[t]
}

// Sentinel errors for common client states.
var (
	// ErrClientClosed is returned when using a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrShutdown is returned when new work is refused during shutdown.
	ErrShutdown = errors.New("shutdown in progress")
	// ErrNotConnected is returned when the streaming connection is down.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrNoCredentials is returned when a private operation lacks credentials.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrLoginFailed is returned when the streaming login is rejected.
	ErrLoginFailed = errors.New("websocket login rejected")
)

// ExchangeError represents a structured error returned from the exchange.
type ExchangeError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// StatusCode is the HTTP status code, when the error came from REST.
	StatusCode int `json:"status_code,omitempty"`
	// Code is the exchange-specific error code (e.g., "50011").
	Code string `json:"code,omitempty"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("okx %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("okx %s: %s", e.Type, e.Message)
}

// NewExchangeError creates an ExchangeError with the current timestamp.
func NewExchangeError(errorType ErrorType, code, message string) *ExchangeError {
	return &ExchangeError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Retryable reports whether the error class is worth retrying locally.
// Authentication and bad-request failures never are; retrying a bad
// signature only burns rate limit budget.
func (e *ExchangeError) Retryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	}
	return false
}

// IsRateLimitError returns true if err is a rate limit rejection.
func IsRateLimitError(err error) bool {
	var e *ExchangeError
	return errors.As(err, &e) && e.Type == ErrorTypeRateLimit
}

// IsAuthenticationError returns true if err is an authentication failure.
func IsAuthenticationError(err error) bool {
	var e *ExchangeError
	return errors.As(err, &e) && e.Type == ErrorTypeAuthentication
}

// IsNetworkError returns true if err is a transient transport failure.
func IsNetworkError(err error) bool {
	var e *ExchangeError
	return errors.As(err, &e) && (e.Type == ErrorTypeNetwork || e.Type == ErrorTypeTimeout)
}

// IsInvalidInstrumentError returns true if err indicates an unknown instrument.
func IsInvalidInstrumentError(err error) bool {
	var e *ExchangeError
	return errors.As(err, &e) && e.Type == ErrorTypeInvalidInstrument
}
