package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

// fakeExchange speaks just enough of the streaming protocol for tests:
// it answers pings, acks or rejects logins and subscriptions, records
// every subscribe frame, and can sever all connections on demand.
type fakeExchange struct {
	gws.BuiltinEventHandler

	mu          sync.Mutex
	sockets     []*gws.Conn
	subFrames   [][]string // instIDs per subscribe frame, in arrival order
	failCodes   map[string]string
	rejectLogin bool
	pushOnAck   bool
	ignorePings bool
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{failCodes: make(map[string]string)}
}

func (f *fakeExchange) OnOpen(socket *gws.Conn) {
	f.mu.Lock()
	f.sockets = append(f.sockets, socket)
	f.mu.Unlock()
}

func (f *fakeExchange) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	data := message.Bytes()

	if string(data) == "ping" {
		f.mu.Lock()
		ignore := f.ignorePings
		f.mu.Unlock()
		if !ignore {
			_ = socket.WriteMessage(gws.OpcodeText, []byte("pong"))
		}
		return
	}

	var req struct {
		Op   string `json:"op"`
		Args []struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
			APIKey  string `json:"apiKey"`
		} `json:"args"`
	}
	if err := sonic.Unmarshal(data, &req); err != nil {
		return
	}

	switch req.Op {
	case "login":
		f.mu.Lock()
		reject := f.rejectLogin
		f.mu.Unlock()
		if reject {
			f.send(socket, `{"event":"error","code":"60009","msg":"Login failed"}`)
		} else {
			f.send(socket, `{"event":"login","code":"0","msg":"","connId":"test"}`)
		}
	case "subscribe":
		instIDs := make([]string, 0, len(req.Args))
		for _, arg := range req.Args {
			instIDs = append(instIDs, arg.InstID)

			f.mu.Lock()
			code := f.failCodes[arg.InstID]
			push := f.pushOnAck
			f.mu.Unlock()

			if code != "" {
				f.send(socket, fmt.Sprintf(
					`{"event":"error","arg":{"channel":%q,"instId":%q},"code":%q,"msg":"channel doesn't exist"}`,
					arg.Channel, arg.InstID, code))
				continue
			}
			f.send(socket, fmt.Sprintf(
				`{"event":"subscribe","arg":{"channel":%q,"instId":%q},"connId":"test"}`,
				arg.Channel, arg.InstID))
			if push {
				f.send(socket, fmt.Sprintf(
					`{"arg":{"channel":%q,"instId":%q},"data":[{"instId":%q,"last":"43000","ts":"1705307400000"}]}`,
					arg.Channel, arg.InstID, arg.InstID))
			}
		}
		f.mu.Lock()
		f.subFrames = append(f.subFrames, instIDs)
		f.mu.Unlock()
	case "unsubscribe":
		for _, arg := range req.Args {
			f.send(socket, fmt.Sprintf(
				`{"event":"unsubscribe","arg":{"channel":%q,"instId":%q}}`, arg.Channel, arg.InstID))
		}
	}
}

func (f *fakeExchange) send(socket *gws.Conn, frame string) {
	_ = socket.WriteMessage(gws.OpcodeText, []byte(frame))
}

func (f *fakeExchange) setPushOnAck(v bool) {
	f.mu.Lock()
	f.pushOnAck = v
	f.mu.Unlock()
}

func (f *fakeExchange) setRejectLogin(v bool) {
	f.mu.Lock()
	f.rejectLogin = v
	f.mu.Unlock()
}

func (f *fakeExchange) setIgnorePings(v bool) {
	f.mu.Lock()
	f.ignorePings = v
	f.mu.Unlock()
}

func (f *fakeExchange) setFailCode(instID, code string) {
	f.mu.Lock()
	f.failCodes[instID] = code
	f.mu.Unlock()
}

// dropAll severs every connection, simulating an exchange-side outage.
func (f *fakeExchange) dropAll() {
	f.mu.Lock()
	sockets := f.sockets
	f.sockets = nil
	f.mu.Unlock()
	for _, s := range sockets {
		_ = s.NetConn().Close()
	}
}

func (f *fakeExchange) frames() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.subFrames))
	copy(out, f.subFrames)
	return out
}

func startFakeExchange(t *testing.T) (*fakeExchange, string) {
	t.Helper()
	f := newFakeExchange()
	upgrader := gws.NewUpgrader(f, &gws.ServerOption{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		go socket.ReadLoop()
	}))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func streamConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.ReconnectBase = 20 * time.Millisecond
	cfg.ReconnectCeiling = 100 * time.Millisecond
	cfg.ResubscribeBatchDelay = 5 * time.Millisecond
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func newTestStream(t *testing.T, cfg *core.Config, publicURL, privateURL string) *Stream {
	t.Helper()
	if cfg == nil {
		cfg = streamConfig()
	}
	s, err := NewStream(cfg)
	require.NoError(t, err)
	s.publicURL = publicURL
	s.privateURL = privateURL
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStream_SubscribeAndReceive(t *testing.T) {
	fake, url := startFakeExchange(t)
	fake.setPushOnAck(true)
	s := newTestStream(t, nil, url, "")

	var mu sync.Mutex
	var got []json.RawMessage
	err := s.Subscribe(context.Background(), core.ChannelTickers, "BTC-USDT-SWAP",
		func(key core.SubscriptionKey, data json.RawMessage) {
			mu.Lock()
			got = append(got, data)
			mu.Unlock()
		})
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, "no push delivered")

	mu.Lock()
	assert.Contains(t, string(got[0]), `"last":"43000"`)
	mu.Unlock()

	cached, age, ok := s.GetCached(core.ChannelTickers, "BTC-USDT-SWAP")
	require.True(t, ok)
	assert.Contains(t, string(cached.([]byte)), `"last":"43000"`)
	assert.Less(t, age, 5*time.Second)
	assert.True(t, s.Connected())
}

func TestStream_SubscribeDuplicateIsNoop(t *testing.T) {
	fake, url := startFakeExchange(t)
	s := newTestStream(t, nil, url, "")

	handler := func(core.SubscriptionKey, json.RawMessage) {}
	require.NoError(t, s.Subscribe(context.Background(), core.ChannelTickers, "BTC-USDT", handler))
	require.NoError(t, s.Subscribe(context.Background(), core.ChannelTickers, "BTC-USDT", handler))

	waitFor(t, func() bool { return len(fake.frames()) >= 1 }, "no subscribe frame")
	assert.Len(t, fake.frames(), 1, "second subscribe sends no frame")
}

func TestStream_Quarantine(t *testing.T) {
	fake, url := startFakeExchange(t)
	fake.setFailCode("FAKE-USDT-SWAP", "60018")

	cfg := streamConfig()
	cfg.QuarantineThreshold = 1
	s := newTestStream(t, cfg, url, "")

	handler := func(core.SubscriptionKey, json.RawMessage) {}
	require.NoError(t, s.Subscribe(context.Background(), core.ChannelTickers, "FAKE-USDT-SWAP", handler))

	waitFor(t, func() bool {
		return s.Quarantined(core.ChannelTickers, "FAKE-USDT-SWAP")
	}, "subscription error never quarantined the symbol")

	// Healthy symbols are unaffected, and the quarantined entry stays
	// registered.
	require.NoError(t, s.Subscribe(context.Background(), core.ChannelTickers, "BTC-USDT-SWAP", handler))

	status := s.Status()
	assert.Contains(t, status.Quarantined, "tickers:FAKE-USDT-SWAP")
	assert.Equal(t, 2, status.Subscriptions)

	// A reconnect still replays the quarantined pair.
	waitFor(t, func() bool { return len(fake.frames()) >= 2 }, "initial subscribes missing")
	fake.dropAll()
	waitFor(t, func() bool {
		frames := fake.frames()
		if len(frames) < 3 {
			return false
		}
		for _, frame := range frames[2:] {
			for _, id := range frame {
				if id == "FAKE-USDT-SWAP" {
					return true
				}
			}
		}
		return false
	}, "quarantined pair not replayed after reconnect")

	s.ReleaseQuarantine(core.ChannelTickers, "FAKE-USDT-SWAP")
	assert.False(t, s.Quarantined(core.ChannelTickers, "FAKE-USDT-SWAP"))
}

func TestStream_StaleConnectionForcesReconnect(t *testing.T) {
	fake, url := startFakeExchange(t)
	fake.setIgnorePings(true)

	cfg := streamConfig()
	cfg.HeartbeatTick = 20 * time.Millisecond
	cfg.PingInterval = 40 * time.Millisecond
	cfg.StaleThreshold = 150 * time.Millisecond
	s := newTestStream(t, cfg, url, "")

	handler := func(core.SubscriptionKey, json.RawMessage) {}
	require.NoError(t, s.Subscribe(context.Background(), core.ChannelTickers, "BTC-USDT", handler))
	waitFor(t, func() bool { return len(fake.frames()) >= 1 }, "no subscribe frame")

	// The exchange swallows pings and pushes nothing, so the stream
	// goes stale. The monitor must force a close and the reconnect
	// must replay the subscription.
	waitFor(t, func() bool { return len(fake.frames()) >= 2 },
		"stale connection never reconnected and resubscribed")
}

func TestStream_SubscribeTickerTyped(t *testing.T) {
	fake, url := startFakeExchange(t)
	fake.setPushOnAck(true)
	s := newTestStream(t, nil, url, "")

	received := make(chan core.Ticker, 1)
	err := s.SubscribeTicker(context.Background(), "BTC-USDT-SWAP", func(tk core.Ticker) {
		select {
		case received <- tk:
		default:
		}
	})
	require.NoError(t, err)

	select {
	case tk := <-received:
		assert.Equal(t, "BTC-USDT-SWAP", tk.InstID)
		assert.Equal(t, "43000", tk.Last.String())
		assert.Equal(t, time.UnixMilli(1705307400000).UTC(), tk.Timestamp)
	case <-time.After(5 * time.Second):
		t.Fatal("no typed ticker delivered")
	}
}

func TestStream_HandlerPanicIsolated(t *testing.T) {
	fake, url := startFakeExchange(t)
	fake.setPushOnAck(true)
	s := newTestStream(t, nil, url, "")

	invoked := make(chan struct{}, 1)
	err := s.Subscribe(context.Background(), core.ChannelTickers, "BTC-USDT",
		func(core.SubscriptionKey, json.RawMessage) {
			select {
			case invoked <- struct{}{}:
			default:
			}
			panic("bad handler")
		})
	require.NoError(t, err)

	select {
	case <-invoked:
	case <-time.After(5 * time.Second):
		t.Fatal("no push delivered")
	}

	// The read loop survives the panic and the connection stays up.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, s.Connected())
}

func TestStream_ReconnectReplaysSubscriptionsInBatches(t *testing.T) {
	fake, url := startFakeExchange(t)
	cfg := streamConfig()
	cfg.ResubscribeBatchSize = 5
	s := newTestStream(t, cfg, url, "")

	handler := func(core.SubscriptionKey, json.RawMessage) {}
	instIDs := make([]string, 7)
	for i := range instIDs {
		instIDs[i] = fmt.Sprintf("COIN%d-USDT-SWAP", i)
		require.NoError(t, s.Subscribe(context.Background(), core.ChannelTickers, instIDs[i], handler))
	}
	waitFor(t, func() bool { return len(fake.frames()) >= 7 }, "initial subscribes missing")

	fake.dropAll()

	// After reconnect the 7 subscriptions replay as a batch of 5 and a
	// batch of 2.
	waitFor(t, func() bool {
		for _, frame := range fake.frames() {
			if len(frame) == 5 {
				return true
			}
		}
		return false
	}, "no batched replay observed")

	var batchSizes []int
	for _, frame := range fake.frames()[7:] {
		batchSizes = append(batchSizes, len(frame))
	}
	assert.Contains(t, batchSizes, 5)
	assert.Contains(t, batchSizes, 2)
}

func TestStream_PrivateLogin(t *testing.T) {
	fake, url := startFakeExchange(t)
	fake.setPushOnAck(true)

	cfg := streamConfig()
	cfg.Credentials = &core.Credentials{APIKey: "k", SecretKey: "s", Passphrase: "p"}
	s := newTestStream(t, cfg, "", url)

	received := make(chan json.RawMessage, 1)
	err := s.Subscribe(context.Background(), core.ChannelOrders, "",
		func(key core.SubscriptionKey, data json.RawMessage) {
			select {
			case received <- data:
			default:
			}
		})
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.NotEmpty(t, data)
	case <-time.After(5 * time.Second):
		t.Fatal("no private push delivered")
	}
}

func TestStream_PrivateLoginRejected(t *testing.T) {
	fake, url := startFakeExchange(t)
	fake.setRejectLogin(true)

	cfg := streamConfig()
	cfg.Credentials = &core.Credentials{APIKey: "k", SecretKey: "s", Passphrase: "p"}
	s := newTestStream(t, cfg, "", url)

	err := s.Subscribe(context.Background(), core.ChannelOrders, "",
		func(core.SubscriptionKey, json.RawMessage) {})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLoginFailed)
}

func TestStream_PrivateWithoutCredentials(t *testing.T) {
	_, url := startFakeExchange(t)
	s := newTestStream(t, nil, url, url)

	err := s.Subscribe(context.Background(), core.ChannelAccount, "",
		func(core.SubscriptionKey, json.RawMessage) {})

	assert.ErrorIs(t, err, core.ErrNoCredentials)
}

func TestStream_Unsubscribe(t *testing.T) {
	fake, url := startFakeExchange(t)
	fake.setPushOnAck(true)
	s := newTestStream(t, nil, url, "")

	require.NoError(t, s.Subscribe(context.Background(), core.ChannelTickers, "BTC-USDT",
		func(core.SubscriptionKey, json.RawMessage) {}))

	waitFor(t, func() bool {
		_, _, ok := s.GetCached(core.ChannelTickers, "BTC-USDT")
		return ok
	}, "cache never populated")

	require.NoError(t, s.Unsubscribe(context.Background(), core.ChannelTickers, "BTC-USDT"))

	_, _, ok := s.GetCached(core.ChannelTickers, "BTC-USDT")
	assert.False(t, ok, "unsubscribe clears the cache entry")

	// Unknown key is a no-op.
	assert.NoError(t, s.Unsubscribe(context.Background(), core.ChannelTickers, "NOPE"))
}

func TestStream_ShutdownCancelsReconnectBackoff(t *testing.T) {
	fake, url := startFakeExchange(t)
	cfg := streamConfig()
	cfg.ReconnectBase = 30 * time.Second
	cfg.ReconnectCeiling = 30 * time.Second
	cfg.ShutdownTimeout = time.Second
	s := newTestStream(t, cfg, url, "")

	require.NoError(t, s.Subscribe(context.Background(), core.ChannelTickers, "BTC-USDT",
		func(core.SubscriptionKey, json.RawMessage) {}))

	fake.dropAll()
	waitFor(t, func() bool { return !s.Connected() }, "drop not observed")

	// The reconnect goroutine is deep in a 30s backoff wait; Shutdown
	// must interrupt it instead of timing out.
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStream_ShutdownIdempotent(t *testing.T) {
	_, url := startFakeExchange(t)
	s := newTestStream(t, nil, url, "")

	require.NoError(t, s.Subscribe(context.Background(), core.ChannelTickers, "BTC-USDT",
		func(core.SubscriptionKey, json.RawMessage) {}))

	ctx := context.Background()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, s.Shutdown(ctx))

	err := s.Subscribe(ctx, core.ChannelTickers, "ETH-USDT",
		func(core.SubscriptionKey, json.RawMessage) {})
	assert.ErrorIs(t, err, core.ErrClientClosed)
}
