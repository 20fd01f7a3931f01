package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"

	"nakula/internal/httpx"
	"nakula/internal/keyring"
	"nakula/internal/ratelimit"
	"nakula/pkg/core"
)

// Client is the REST client. Every call runs the same pipeline:
// acquire a rate limit permit, sign if private, send, classify the
// envelope, and retry on transient failures. Rate-limit rejections
// retry on a doubling ladder and widen the global pacer; transport
// faults retry linearly with a fresh HTTP transport each time.
type Client struct {
	config  *core.Config
	http    *httpx.Client
	limiter *ratelimit.Limiter
	ring    *keyring.Ring
	logger  zerolog.Logger

	// now is swappable for deterministic signature tests.
	now func() time.Time
}

// NewClient validates the config and builds a REST client. Credentials
// are optional; private endpoints fail with ErrNoCredentials without
// them.
func NewClient(config *core.Config) (*Client, error) {
	if config == nil {
		config = core.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if config.Sandbox {
		headers[headerSimulated] = "1"
	}

	httpClient, err := httpx.NewClient(&httpx.Config{
		BaseURL: restBaseURL,
		Timeout: config.Timeout,
		Headers: headers,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		config: config,
		http:   httpClient,
		limiter: ratelimit.New(ratelimit.Config{
			PermitTimeout: config.PermitTimeout,
			PacingFloor:   config.PacingFloor,
			PacingCeiling: config.PacingCeiling,
		}),
		ring:   keyring.FromCredentials(config.Credentials, config.MaxAuthFailures),
		logger: zerolog.Nop(),
		now:    time.Now,
	}, nil
}

// SetLogger configures the logger for the client and its HTTP layer.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
	c.http.SetLogger(logger)
}

// Close releases the underlying HTTP transport.
func (c *Client) Close() error {
	return c.http.Close()
}

// do runs the request pipeline. A nil, nil return means the request was
// shed — the rate limit permit timed out, or a transient failure class
// exhausted its retries. Callers degrade to an empty result rather than
// failing, because backpressure is an expected operating condition.
func (c *Client) do(ctx context.Context, req *core.RequestSpec) (json.RawMessage, error) {
	if !c.limiter.Acquire(ctx, req.Category()) {
		c.logger.Warn().
			Str("path", req.Path).
			Str("category", req.Category().String()).
			Msg("rate limit permit timed out, degrading")
		return nil, nil
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = sonic.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleepFor(ctx, c.retryWait(lastErr, attempt)); err != nil {
				return nil, err
			}
		}

		data, err := c.send(ctx, req, body)
		if err == nil {
			c.limiter.OnSuccess()
			c.ring.MarkUsed()
			return data, nil
		}
		lastErr = err

		var exErr *core.ExchangeError
		retryable := true
		switch {
		case core.IsRateLimitError(err):
			c.limiter.OnRateLimited()
			c.logger.Warn().
				Str("path", req.Path).
				Int("attempt", attempt+1).
				Dur("min_interval", c.limiter.MinInterval()).
				Msg("rate limited by exchange")
		case core.IsAuthenticationError(err):
			// Rotating to another key makes one more attempt worth it.
			retryable = req.Private && c.ring.OnAuthFailure()
		case core.IsNetworkError(err):
			c.http.Recreate()
		case errors.As(err, &exErr):
			retryable = exErr.Retryable()
		}

		if !retryable {
			break
		}
	}

	// Transient classes that exhaust their retries degrade to an empty
	// result: backpressure and flaky transport are expected operating
	// conditions, not hard failures. Auth, bad-request, and malformed
	// responses still surface.
	var exhausted *core.ExchangeError
	if errors.As(lastErr, &exhausted) && exhausted.Retryable() {
		c.logger.Warn().Err(lastErr).
			Str("path", req.Path).
			Int("attempts", c.config.MaxRetries+1).
			Msg("retries exhausted, degrading to empty result")
		return nil, nil
	}
	return nil, lastErr
}

// retryWait picks the backoff for the coming attempt: doubling ladder
// for exchange rate limits, linear for everything else.
func (c *Client) retryWait(err error, attempt int) time.Duration {
	if core.IsRateLimitError(err) {
		return c.config.RateLimitRetryWait * time.Duration(1<<uint(attempt-1))
	}
	return c.config.RetryWait * time.Duration(attempt)
}

func (c *Client) sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send performs one HTTP round trip and classifies the outcome.
func (c *Client) send(ctx context.Context, req *core.RequestSpec, body []byte) (json.RawMessage, error) {
	opts := []httpx.RequestOption{
		httpx.WithQueryParams(req.FilteredQuery()),
	}
	if len(body) > 0 {
		opts = append(opts, httpx.WithBody(body))
	}

	if req.Private {
		creds := c.ring.Current()
		if creds == nil {
			return nil, core.ErrNoCredentials
		}
		opts = append(opts, httpx.WithHeaders(
			authHeaders(creds, req.Method, req.CanonicalPath(), string(body), c.now()),
		))
	}

	resp, err := c.http.Execute(ctx, req.Method, req.Path, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.NewExchangeError(core.ErrorTypeTimeout, "", err.Error())
		}
		return nil, core.NewExchangeError(core.ErrorTypeNetwork, "", err.Error())
	}

	return parseEnvelope(resp.StatusCode(), resp.Bytes())
}

// decodeList decodes the envelope data array into wire structs.
func decodeList[T any](data json.RawMessage) ([]T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out []T
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, core.NewExchangeError(core.ErrorTypeMalformedResponse, "",
			fmt.Sprintf("decode data array: %v", err))
	}
	return out, nil
}

// fmtDecimal renders a decimal without exponent notation, the only
// form the exchange accepts in request fields.
func fmtDecimal(d apd.Decimal) string {
	return d.Text('f')
}

// GetServerTime returns the exchange clock, useful for detecting local
// clock skew before signing.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	data, err := c.do(ctx, core.NewRequest(http.MethodGet, "/api/v5/public/time"))
	if err != nil || data == nil {
		return time.Time{}, err
	}
	rows, err := decodeList[struct {
		TS string `json:"ts"`
	}](data)
	if err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, core.NewExchangeError(core.ErrorTypeMalformedResponse, "", "empty server time")
	}
	return parseMillis(rows[0].TS), nil
}

// GetTicker returns the latest ticker for one instrument.
func (c *Client) GetTicker(ctx context.Context, instID string) (*core.Ticker, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/market/ticker").
		SetQuery("instId", instID)
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[wireTicker](data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	t, err := rows[0].normalize()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTickers returns tickers for every instrument of the given type.
func (c *Client) GetTickers(ctx context.Context, instType core.InstrumentType) ([]core.Ticker, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/market/tickers").
		SetQuery("instType", instType.String())
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[wireTicker](data)
	if err != nil {
		return nil, err
	}
	out := make([]core.Ticker, 0, len(rows))
	for i := range rows {
		t, err := rows[i].normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// GetCandles returns up to limit OHLCV bars for the instrument, newest
// first, as the exchange delivers them.
func (c *Client) GetCandles(ctx context.Context, instID, bar string, limit int) ([]core.Candle, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/market/candles").
		SetQuery("instId", instID).
		SetQuery("bar", bar)
	if limit > 0 {
		req.SetQuery("limit", fmt.Sprintf("%d", limit))
	}
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[[]string](data)
	if err != nil {
		return nil, err
	}
	out := make([]core.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := normalizeCandle(instID, row)
		if err != nil {
			return nil, err
		}
		out = append(out, candle)
	}
	return out, nil
}

// GetTrades returns recent public trades for the instrument.
func (c *Client) GetTrades(ctx context.Context, instID string, limit int) ([]core.Trade, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/market/trades").
		SetQuery("instId", instID)
	if limit > 0 {
		req.SetQuery("limit", fmt.Sprintf("%d", limit))
	}
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[wireTrade](data)
	if err != nil {
		return nil, err
	}
	out := make([]core.Trade, 0, len(rows))
	for i := range rows {
		t, err := rows[i].normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// GetFundingRate returns the current funding rate of a perpetual swap.
func (c *Client) GetFundingRate(ctx context.Context, instID string) (*core.FundingRate, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/public/funding-rate").
		SetQuery("instId", instID)
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[wireFundingRate](data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	fr, err := rows[0].normalize()
	if err != nil {
		return nil, err
	}
	return &fr, nil
}

// GetFundingRateHistory returns settled funding rates, newest first.
func (c *Client) GetFundingRateHistory(ctx context.Context, instID string, limit int) ([]core.FundingRateRecord, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/public/funding-rate-history").
		SetQuery("instId", instID)
	if limit > 0 {
		req.SetQuery("limit", fmt.Sprintf("%d", limit))
	}
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[wireFundingRecord](data)
	if err != nil {
		return nil, err
	}
	out := make([]core.FundingRateRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetOpenInterest returns current open interest for the instrument.
func (c *Client) GetOpenInterest(ctx context.Context, instType core.InstrumentType, instID string) (*core.OpenInterest, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/public/open-interest").
		SetQuery("instType", instType.String()).
		SetQuery("instId", instID)
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[wireOpenInterest](data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	oi, err := rows[0].normalize()
	if err != nil {
		return nil, err
	}
	return &oi, nil
}

// GetOpenInterestHistory returns open interest snapshots over time.
// Period uses exchange bar notation ("5m", "1H", "1D").
func (c *Client) GetOpenInterestHistory(ctx context.Context, instID, period string, limit int) ([]core.OpenInterest, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/rubik/stat/contracts/open-interest-history").
		SetQuery("instId", instID).
		SetQuery("period", period)
	if limit > 0 {
		req.SetQuery("limit", fmt.Sprintf("%d", limit))
	}
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[wireOpenInterest](data)
	if err != nil {
		return nil, err
	}
	out := make([]core.OpenInterest, 0, len(rows))
	for i := range rows {
		oi, err := rows[i].normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, oi)
	}
	return out, nil
}

// GetInstruments returns every instrument of the given type.
func (c *Client) GetInstruments(ctx context.Context, instType core.InstrumentType) ([]core.Instrument, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/public/instruments").
		SetQuery("instType", instType.String())
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[wireInstrument](data)
	if err != nil {
		return nil, err
	}
	out := make([]core.Instrument, 0, len(rows))
	for i := range rows {
		inst, err := rows[i].normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// GetActiveInstruments returns only instruments currently open for
// trading.
func (c *Client) GetActiveInstruments(ctx context.Context, instType core.InstrumentType) ([]core.Instrument, error) {
	all, err := c.GetInstruments(ctx, instType)
	if err != nil {
		return nil, err
	}
	out := make([]core.Instrument, 0, len(all))
	for i := range all {
		if all[i].Live() {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// GetBalance returns account balances, optionally filtered to the
// given currencies.
func (c *Client) GetBalance(ctx context.Context, currencies ...string) ([]core.Balance, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/account/balance").SetPrivate()
	if len(currencies) > 0 {
		req.SetQuery("ccy", strings.Join(currencies, ","))
	}
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[wireAccount](data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].normalize()
}

// GetPositions returns all open positions.
func (c *Client) GetPositions(ctx context.Context) ([]core.Position, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/account/positions").SetPrivate()
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[wirePosition](data)
	if err != nil {
		return nil, err
	}
	out := make([]core.Position, 0, len(rows))
	for i := range rows {
		p, err := rows[i].normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// PlaceOrder submits a new order and returns the exchange order ID.
// When the request carries leverage, it is applied first.
func (c *Client) PlaceOrder(ctx context.Context, order *core.OrderRequest) (string, error) {
	if order.Leverage > 0 {
		if err := c.SetLeverage(ctx, order.InstID, order.Leverage, "cross"); err != nil {
			return "", fmt.Errorf("set leverage: %w", err)
		}
	}

	body := map[string]string{
		"instId":  order.InstID,
		"tdMode":  "cross",
		"side":    order.Side.String(),
		"ordType": order.Type.String(),
		"sz":      fmtDecimal(order.Size),
	}
	if order.Type != core.TypeMarket {
		body["px"] = fmtDecimal(order.Price)
	}
	if order.ClientOrderID != "" {
		body["clOrdId"] = order.ClientOrderID
	}

	req := core.NewRequest(http.MethodPost, "/api/v5/trade/order").
		SetBody(body).SetPrivate()
	data, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", core.NewExchangeError(core.ErrorTypeRateLimit, "", "order request shed by rate limiting")
	}

	rows, err := decodeList[struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}](data)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", core.NewExchangeError(core.ErrorTypeMalformedResponse, "", "empty order response")
	}
	if rows[0].SCode != codeOK {
		return "", classifyBusinessError(http.StatusOK, rows[0].SCode, rows[0].SMsg)
	}
	return rows[0].OrdID, nil
}

// CancelOrder cancels a live order by exchange order ID.
func (c *Client) CancelOrder(ctx context.Context, instID, orderID string) error {
	body := map[string]string{"instId": instID, "ordId": orderID}
	req := core.NewRequest(http.MethodPost, "/api/v5/trade/cancel-order").
		SetBody(body).SetPrivate()
	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if data == nil {
		return core.NewExchangeError(core.ErrorTypeRateLimit, "", "cancel request shed by rate limiting")
	}

	rows, err := decodeList[struct {
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}](data)
	if err != nil {
		return err
	}
	if len(rows) > 0 && rows[0].SCode != codeOK {
		return classifyBusinessError(http.StatusOK, rows[0].SCode, rows[0].SMsg)
	}
	return nil
}

// GetOrder returns the current state of one order.
func (c *Client) GetOrder(ctx context.Context, instID, orderID string) (*core.Order, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/trade/order").
		SetQuery("instId", instID).
		SetQuery("ordId", orderID).
		SetPrivate()
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[wireOrder](data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	o, err := rows[0].normalize()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetPendingAlgoOrders returns unfilled conditional orders of the
// given algo type (e.g., "trigger", "conditional").
func (c *Client) GetPendingAlgoOrders(ctx context.Context, algoType string) ([]core.AlgoOrder, error) {
	req := core.NewRequest(http.MethodGet, "/api/v5/trade/orders-algo-pending").
		SetQuery("ordType", algoType).
		SetPrivate()
	data, err := c.do(ctx, req)
	if err != nil || data == nil {
		return nil, err
	}
	rows, err := decodeList[wireAlgoOrder](data)
	if err != nil {
		return nil, err
	}
	out := make([]core.AlgoOrder, 0, len(rows))
	for i := range rows {
		a, err := rows[i].normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// SetLeverage sets the leverage for an instrument under the given
// margin mode ("cross" or "isolated").
func (c *Client) SetLeverage(ctx context.Context, instID string, leverage int, mgnMode string) error {
	body := map[string]string{
		"instId":  instID,
		"lever":   fmt.Sprintf("%d", leverage),
		"mgnMode": mgnMode,
	}
	req := core.NewRequest(http.MethodPost, "/api/v5/account/set-leverage").
		SetBody(body).SetPrivate()
	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if data == nil {
		return core.NewExchangeError(core.ErrorTypeRateLimit, "", "leverage request shed by rate limiting")
	}
	return nil
}

// Metrics returns a snapshot of the rate limiter counters.
func (c *Client) Metrics() ratelimit.MetricsSnapshot {
	return c.limiter.Snapshot()
}
