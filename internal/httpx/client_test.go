package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Headers: map[string]string{"Content-Type": "application/json"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_TransportPoolCapped(t *testing.T) {
	c := newTestClient(t, "http://localhost:9")

	require.NotNil(t, c.transport)
	assert.Equal(t, maxConnsPerHost, c.transport.MaxConnsPerHost)
	assert.Equal(t, maxConnsPerHost, c.transport.MaxIdleConnsPerHost)
	assert.Equal(t, maxIdleConns, c.transport.MaxIdleConns)
	assert.Equal(t, idleConnTimeout, c.transport.IdleConnTimeout)

	old := c.transport
	c.Recreate()
	assert.NotSame(t, old, c.transport, "recreate builds a fresh capped transport")
	assert.Equal(t, maxConnsPerHost, c.transport.MaxConnsPerHost)
}

func TestNewClient_ValidatesConfig(t *testing.T) {
	_, err := NewClient(&Config{BaseURL: "not a url", Timeout: time.Second})
	assert.Error(t, err)

	_, err = NewClient(&Config{BaseURL: "https://www.okx.com"})
	assert.Error(t, err, "zero timeout must fail validation")
}

func TestClient_Execute(t *testing.T) {
	var gotHeader, gotQuery string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("OK-ACCESS-KEY")
		gotQuery = r.URL.Query().Get("instId")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[]}`))
	})

	c := newTestClient(t, srv.URL)
	resp, err := c.Execute(context.Background(), http.MethodGet, "/api/v5/market/ticker",
		WithHeader("OK-ACCESS-KEY", "test-key"),
		WithQueryParams(map[string]string{"instId": "BTC-USDT"}),
	)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "test-key", gotHeader)
	assert.Equal(t, "BTC-USDT", gotQuery)
	assert.Contains(t, string(resp.Bytes()), `"code":"0"`)
}

func TestClient_ExecutePostBody(t *testing.T) {
	var gotBody []byte
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = buf
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"0"}`))
	})

	c := newTestClient(t, srv.URL)
	_, err := c.Execute(context.Background(), http.MethodPost, "/api/v5/trade/order",
		WithBody(map[string]string{"instId": "BTC-USDT", "side": "buy"}),
	)

	require.NoError(t, err)
	assert.Contains(t, string(gotBody), `"instId":"BTC-USDT"`)
}

func TestClient_ClosedRejectsRequests(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.Close())

	_, err := c.Execute(context.Background(), http.MethodGet, "/")
	assert.Error(t, err)
}

func TestClient_RecreateKeepsWorking(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"0"}`))
	})

	c := newTestClient(t, srv.URL)

	_, err := c.Execute(context.Background(), http.MethodGet, "/")
	require.NoError(t, err)

	c.Recreate()

	resp, err := c.Execute(context.Background(), http.MethodGet, "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
}

func TestClient_ContextCancellation(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	})

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Execute(ctx, http.MethodGet, "/")
	assert.Error(t, err)
}
