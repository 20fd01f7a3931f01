package core

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// Credentials holds API authentication credentials.
// They are immutable for the lifetime of the client that owns them.
type Credentials struct {
	// APIKey is the public API key identifier.
	APIKey string `json:"api_key"`
	// SecretKey is the private key used for signing requests.
	SecretKey string `json:"secret_key"`
	// Passphrase is the additional credential OKX requires.
	Passphrase string `json:"passphrase"`
}

// Empty reports whether no credentials were provided.
func (c *Credentials) Empty() bool {
	return c == nil || c.APIKey == "" || c.SecretKey == ""
}

// Config contains all configuration options for the client.
// It covers authentication, networking, rate limiting, streaming
// liveness, reconnection, and degradation behavior.
type Config struct {
	Sandbox     bool         `json:"sandbox"`
	Credentials *Credentials `json:"credentials,omitempty"`

	// Timeout is the maximum duration for one HTTP request.
	Timeout time.Duration `json:"timeout" validate:"min=1ms"`
	// MaxRetries bounds REST retry attempts for transient failures.
	MaxRetries int `json:"max_retries" validate:"min=0"`
	// RetryWait is the base wait for transport-level retries; attempt n waits n*RetryWait.
	RetryWait time.Duration `json:"retry_wait" validate:"min=0"`
	// RateLimitRetryWait is the base wait after a rate limit rejection; doubles per attempt.
	RateLimitRetryWait time.Duration `json:"rate_limit_retry_wait" validate:"min=0"`

	// PermitTimeout bounds how long a call may wait for a rate limit permit.
	PermitTimeout time.Duration `json:"permit_timeout" validate:"min=0"`
	// PacingFloor is the minimum enforced spacing between any two requests.
	PacingFloor time.Duration `json:"pacing_floor" validate:"min=0"`
	// PacingCeiling caps the self-tuned request spacing.
	PacingCeiling time.Duration `json:"pacing_ceiling" validate:"min=0"`

	// PingInterval is how often a liveness ping is sent on streaming connections.
	PingInterval time.Duration `json:"ping_interval" validate:"min=1ms"`
	// StaleThreshold is how long without any inbound frame before a connection is force-closed.
	StaleThreshold time.Duration `json:"stale_threshold" validate:"min=1ms"`
	// HeartbeatTick is how often the liveness monitor wakes up.
	HeartbeatTick time.Duration `json:"heartbeat_tick" validate:"min=1ms"`
	// ReconnectBase is multiplied by the attempt number to space reconnects.
	ReconnectBase time.Duration `json:"reconnect_base" validate:"min=0"`
	// ReconnectCeiling caps the wait between reconnect attempts.
	ReconnectCeiling time.Duration `json:"reconnect_ceiling" validate:"min=0"`
	// ReconnectMaxAttempts bounds consecutive reconnect attempts before giving up.
	ReconnectMaxAttempts int `json:"reconnect_max_attempts" validate:"min=1"`
	// MaxAuthFailures escalates to a terminal state after this many consecutive login failures.
	MaxAuthFailures int `json:"max_auth_failures" validate:"min=1"`

	// ResubscribeBatchSize is how many subscriptions are replayed per batch after reconnect.
	ResubscribeBatchSize int `json:"resubscribe_batch_size" validate:"min=1"`
	// ResubscribeBatchDelay is the pause between replay batches.
	ResubscribeBatchDelay time.Duration `json:"resubscribe_batch_delay" validate:"min=0"`
	// QuarantineThreshold is the consecutive-failure count that quarantines an instrument.
	QuarantineThreshold int `json:"quarantine_threshold" validate:"min=1"`

	// BatchWorkers is the worker pool size for bulk REST operations.
	BatchWorkers int `json:"batch_workers" validate:"min=1"`
	// BatchSpacing is the per-request delay inside bulk operations.
	BatchSpacing time.Duration `json:"batch_spacing" validate:"min=0"`

	// CacheTTL is how long a cached streaming payload is considered fresh.
	CacheTTL time.Duration `json:"cache_ttl" validate:"min=0"`
	// ShutdownTimeout bounds how long Shutdown waits for in-flight work.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" validate:"min=0"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config with the exchange-documented defaults:
// 25s HTTP timeout, 3 retries (3s/6s/12s after rate limits, linear 1s
// steps after transport failures), 0.5s-3s adaptive pacing, 5s monitor
// tick with 20s ping and 60s staleness, 5s*n reconnect spacing capped
// at 60s, batches of 5 on resubscribe, quarantine after 5 failures,
// 10 batch workers.
func DefaultConfig() *Config {
	return &Config{
		Timeout:            25 * time.Second,
		MaxRetries:         3,
		RetryWait:          time.Second,
		RateLimitRetryWait: 3 * time.Second,

		PermitTimeout: 2 * time.Second,
		PacingFloor:   500 * time.Millisecond,
		PacingCeiling: 3 * time.Second,

		PingInterval:         20 * time.Second,
		StaleThreshold:       60 * time.Second,
		HeartbeatTick:        5 * time.Second,
		ReconnectBase:        5 * time.Second,
		ReconnectCeiling:     60 * time.Second,
		ReconnectMaxAttempts: 10,
		MaxAuthFailures:      3,

		ResubscribeBatchSize:  5,
		ResubscribeBatchDelay: time.Second,
		QuarantineThreshold:   5,

		BatchWorkers: 10,
		BatchSpacing: 50 * time.Millisecond,

		CacheTTL:        5 * time.Minute,
		ShutdownTimeout: 10 * time.Second,

		LogLevel: "info",
	}
}

var validate = validator.New()

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.PacingFloor > c.PacingCeiling {
		return errors.New("PacingFloor must not exceed PacingCeiling")
	}
	if c.ReconnectBase > c.ReconnectCeiling {
		return errors.New("ReconnectBase must not exceed ReconnectCeiling")
	}
	if c.PingInterval >= c.StaleThreshold {
		return errors.New("PingInterval must be below StaleThreshold")
	}
	if c.HeartbeatTick > c.StaleThreshold {
		return errors.New("HeartbeatTick must not exceed StaleThreshold")
	}
	return nil
}

// WithCredentials sets the API credentials and returns the config for chaining.
func (c *Config) WithCredentials(creds *Credentials) *Config {
	c.Credentials = creds
	return c
}

// WithSandbox enables or disables simulated trading mode.
func (c *Config) WithSandbox(sandbox bool) *Config {
	c.Sandbox = sandbox
	return c
}

// WithTimeout sets the HTTP request timeout.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithPacing sets the adaptive request spacing bounds.
func (c *Config) WithPacing(floor, ceiling time.Duration) *Config {
	c.PacingFloor = floor
	c.PacingCeiling = ceiling
	return c
}

// WithHeartbeat sets the liveness ping interval and stale threshold.
func (c *Config) WithHeartbeat(ping, stale time.Duration) *Config {
	c.PingInterval = ping
	c.StaleThreshold = stale
	return c
}

// WithReconnect sets the reconnect backoff parameters.
func (c *Config) WithReconnect(base, ceiling time.Duration, maxAttempts int) *Config {
	c.ReconnectBase = base
	c.ReconnectCeiling = ceiling
	c.ReconnectMaxAttempts = maxAttempts
	return c
}
