// Package httpx wraps resty with sonic JSON codecs and request logging.
// Retry policy lives in the caller, not here: the exchange retry ladder
// distinguishes rate-limit rejections from transport faults, which
// resty's uniform retry loop cannot express. The wrapper therefore runs
// with retries off and exposes Recreate for transport-level recovery.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"resty.dev/v3"
)

// Connection pool caps. The exchange resets keep-alives that linger, so
// the pool stays small per host and idle connections close quickly
// instead of waiting for the default 90s.
const (
	maxIdleConns    = 20
	maxConnsPerHost = 3
	idleConnTimeout = 30 * time.Second
)

// Config holds HTTP client configuration.
type Config struct {
	// BaseURL is the REST endpoint root.
	BaseURL string `validate:"required,url"`
	// Timeout bounds each request end to end.
	Timeout time.Duration `validate:"min=1ms"`
	// Headers are attached to every request.
	Headers map[string]string `validate:"omitempty"`
}

// Client is a thread-safe resty wrapper. The underlying transport can
// be swapped out with Recreate after persistent connection faults.
type Client struct {
	mu        sync.RWMutex
	client    *resty.Client
	transport *http.Transport
	config    *Config
	logger    zerolog.Logger
	closed    bool
}

// RequestOption mutates an outgoing request.
type RequestOption func(*resty.Request)

// NewClient validates the config and builds a Client.
func NewClient(config *Config) (*Client, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid http config: %w", err)
	}

	c := &Client{
		config: config,
		logger: zerolog.Nop(),
	}
	c.client = c.build()
	return c, nil
}

func (c *Client) build() *resty.Client {
	c.transport = &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxConnsPerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
	}

	client := resty.New()
	client.SetTransport(c.transport)
	client.SetBaseURL(c.config.BaseURL)
	client.SetTimeout(c.config.Timeout)
	client.AddContentTypeEncoder("application/json", func(w io.Writer, v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	client.AddContentTypeDecoder("application/json", func(r io.Reader, v any) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return sonic.Unmarshal(data, v)
	})

	for k, v := range c.config.Headers {
		client.SetHeader(k, v)
	}

	client.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		c.logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("http request")
		return nil
	})

	client.AddResponseMiddleware(func(_ *resty.Client, resp *resty.Response) error {
		c.logger.Debug().
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL).
			Int("status", resp.StatusCode()).
			Dur("elapsed", resp.Duration()).
			Msg("http response")
		return nil
	})

	return client
}

// SetLogger installs a logger. The default discards everything.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// Recreate tears down the underlying transport and builds a fresh one,
// dropping any wedged keep-alive connections. Config and logger carry
// over.
func (c *Client) Recreate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	old, oldTransport := c.client, c.transport
	c.client = c.build()
	if oldTransport != nil {
		oldTransport.CloseIdleConnections()
	}
	if old != nil {
		_ = old.Close()
	}
	c.logger.Debug().Msg("http transport recreated")
}

// Close releases the underlying transport. Further calls return
// an error.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

// Execute performs one request and returns the raw response. The caller
// owns status inspection and body decoding.
func (c *Client) Execute(ctx context.Context, method, path string, opts ...RequestOption) (*resty.Response, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, fmt.Errorf("http client is closed")
	}
	req := c.client.R().SetContext(ctx)
	c.mu.RUnlock()

	for _, opt := range opts {
		opt(req)
	}
	return req.Execute(method, path)
}

// WithHeader sets one request header.
func WithHeader(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeader(key, value)
	}
}

// WithHeaders sets multiple request headers.
func WithHeaders(headers map[string]string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeaders(headers)
	}
}

// WithQueryParams sets query parameters.
func WithQueryParams(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		r.SetQueryParams(params)
	}
}

// WithBody sets the JSON request body.
func WithBody(body any) RequestOption {
	return func(r *resty.Request) {
		r.SetBody(body)
	}
}
