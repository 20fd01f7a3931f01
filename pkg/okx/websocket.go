package okx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"nakula/internal/keyring"
	"nakula/internal/ws"
	"nakula/pkg/core"
)

// Stream is the streaming client. It maintains up to two websocket
// connections (public market data, private account data), keeps the
// desired subscription set across reconnects, quarantines channels
// that keep failing, and caches the latest payload per subscription.
type Stream struct {
	config *core.Config
	ring   *keyring.Ring
	logger zerolog.Logger
	cache  *dataCache

	// publicURL and privateURL override the exchange endpoints when
	// set; tests point them at local servers.
	publicURL  string
	privateURL string

	mu      sync.Mutex
	public  *managedConn
	private *managedConn
	closed  bool

	wg sync.WaitGroup
}

// managedConn wraps one websocket connection with its own desired
// subscription set, heartbeat monitor, and reconnect loop.
type managedConn struct {
	stream   *Stream
	conn     *ws.Conn
	registry *registry
	private  bool
	label    string

	mu       sync.Mutex
	started  bool
	lastPing time.Time

	// loginMu guards loginRes separately from mu: the login waiter
	// blocks while the read loop delivers the ack.
	loginMu  sync.Mutex
	loginRes chan error
}

// NewStream validates the config and builds a streaming client.
// Connections are dialed lazily on first subscribe.
func NewStream(config *core.Config) (*Stream, error) {
	if config == nil {
		config = core.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Stream{
		config: config,
		ring:   keyring.FromCredentials(config.Credentials, config.MaxAuthFailures),
		logger: zerolog.Nop(),
		cache:  newDataCache(config.CacheTTL),
	}, nil
}

// SetLogger configures the logger for the stream and its connections.
func (s *Stream) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

func (s *Stream) endpoint(private bool) string {
	if private && s.privateURL != "" {
		return s.privateURL
	}
	if !private && s.publicURL != "" {
		return s.publicURL
	}
	switch {
	case private && s.config.Sandbox:
		return wsSandboxPrivateURL
	case private:
		return wsPrivateURL
	case s.config.Sandbox:
		return wsSandboxPublicURL
	default:
		return wsPublicURL
	}
}

// connFor returns the managed connection for the channel kind,
// creating it on first use.
func (s *Stream) connFor(private bool) (*managedConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, core.ErrClientClosed
	}

	if private {
		if s.private == nil {
			if s.ring.Current() == nil {
				return nil, core.ErrNoCredentials
			}
			s.private = s.newManagedConn(true)
		}
		return s.private, nil
	}
	if s.public == nil {
		s.public = s.newManagedConn(false)
	}
	return s.public, nil
}

func (s *Stream) newManagedConn(private bool) *managedConn {
	label := "public"
	if private {
		label = "private"
	}
	mc := &managedConn{
		stream:   s,
		registry: newRegistry(s.config.QuarantineThreshold),
		private:  private,
		label:    label,
	}
	mc.conn = ws.NewConn(ws.Config{
		URL:          s.endpoint(private),
		OnFrame:      mc.handleFrame,
		OnDisconnect: mc.handleDisconnect,
	})
	mc.conn.SetLogger(s.logger.With().Str("conn", label).Logger())
	return mc
}

// Subscribe registers a handler for one channel/instrument pair and
// sends the subscribe frame. The subscription persists across
// reconnects until Unsubscribe; a newer handler for the same pair
// supersedes the old one without resubscribing.
func (s *Stream) Subscribe(ctx context.Context, channel core.Channel, instID string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	key := core.SubscriptionKey{Channel: channel, InstID: instID}

	mc, err := s.connFor(channel.Private())
	if err != nil {
		return err
	}
	if err := mc.ensureStarted(ctx); err != nil {
		return err
	}

	if !mc.registry.add(key, handler) {
		return nil
	}
	if err := mc.sendSubscribe([]core.SubscriptionKey{key}); err != nil {
		mc.registry.remove(key)
		return err
	}

	s.logger.Debug().Stringer("key", key).Str("conn", mc.label).Msg("subscribed")
	return nil
}

// Unsubscribe removes a subscription and sends the unsubscribe frame.
func (s *Stream) Unsubscribe(ctx context.Context, channel core.Channel, instID string) error {
	key := core.SubscriptionKey{Channel: channel, InstID: instID}

	mc, err := s.connFor(channel.Private())
	if err != nil {
		return err
	}
	if !mc.registry.remove(key) {
		return nil
	}
	s.cache.delete(key)

	if mc.conn.IsActive() {
		frame := wsRequest{Op: "unsubscribe", Args: []any{channelArg{
			Channel: string(key.Channel), InstID: key.InstID,
		}}}
		if err := mc.conn.SendJSON(frame); err != nil {
			return err
		}
	}
	return nil
}

// GetCached returns the most recent payload for a subscription along
// with its age. The boolean is false when no fresh entry exists.
func (s *Stream) GetCached(channel core.Channel, instID string) (any, time.Duration, bool) {
	value, age := s.cache.get(core.SubscriptionKey{Channel: channel, InstID: instID})
	if value == nil {
		return nil, 0, false
	}
	return value, age, true
}

// Quarantined reports whether a channel/instrument pair has failed
// subscription past the threshold. A quarantined pair is still
// replayed on reconnect; only its failure reporting goes quiet.
func (s *Stream) Quarantined(channel core.Channel, instID string) bool {
	mc, err := s.connFor(channel.Private())
	if err != nil {
		return false
	}
	return mc.registry.quarantined(core.SubscriptionKey{Channel: channel, InstID: instID})
}

// ReleaseQuarantine lifts the quarantine on one pair, restoring loud
// failure reporting and a fresh failure tally.
func (s *Stream) ReleaseQuarantine(channel core.Channel, instID string) {
	mc, err := s.connFor(channel.Private())
	if err != nil {
		return
	}
	mc.registry.release(core.SubscriptionKey{Channel: channel, InstID: instID})
}

// Connected reports whether the public connection is up.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	mc := s.public
	s.mu.Unlock()
	return mc != nil && mc.conn.IsActive()
}

// StreamStatus is a point-in-time snapshot of connection and
// subscription health.
type StreamStatus struct {
	PublicConnected      bool
	PrivateConnected     bool
	PrivateAuthenticated bool
	Subscriptions        int
	Quarantined          []string
	CachedEntries        int
}

// Status reports the current connection states, subscription counts,
// and quarantined pairs across both roles.
func (s *Stream) Status() StreamStatus {
	s.mu.Lock()
	public, private := s.public, s.private
	s.mu.Unlock()

	status := StreamStatus{CachedEntries: s.cache.len()}
	if public != nil {
		status.PublicConnected = public.conn.IsActive()
		status.Subscriptions += public.registry.len()
		status.Quarantined = append(status.Quarantined, public.registry.quarantinedKeys()...)
	}
	if private != nil {
		status.PrivateConnected = private.conn.IsActive()
		status.PrivateAuthenticated = private.conn.State() == ws.StateAuthenticated
		status.Subscriptions += private.registry.len()
		status.Quarantined = append(status.Quarantined, private.registry.quarantinedKeys()...)
	}
	return status
}

// Shutdown closes both connections and waits for background goroutines,
// bounded by the configured shutdown timeout.
func (s *Stream) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := []*managedConn{s.public, s.private}
	s.mu.Unlock()

	for _, mc := range conns {
		if mc != nil {
			_ = mc.conn.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timeout := s.config.ShutdownTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}

// ensureStarted dials the connection, runs the login exchange for
// private connections, and starts the heartbeat monitor. Subsequent
// calls are no-ops while the connection is healthy.
func (mc *managedConn) ensureStarted(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.started && mc.conn.IsActive() {
		return nil
	}

	if err := mc.conn.Connect(ctx); err != nil {
		return err
	}
	if mc.private {
		if err := mc.login(ctx); err != nil {
			mc.conn.Disconnect()
			return err
		}
	}

	if !mc.started {
		mc.started = true
		mc.stream.wg.Add(1)
		go mc.heartbeatLoop()
	}
	return nil
}

// login runs the authentication exchange and waits for the ack.
func (mc *managedConn) login(ctx context.Context) error {
	creds := mc.stream.ring.Current()
	if creds == nil {
		return core.ErrNoCredentials
	}

	mc.loginMu.Lock()
	res := make(chan error, 1)
	mc.loginRes = res
	mc.loginMu.Unlock()

	frame := wsRequest{Op: "login", Args: []any{loginArgs(creds, time.Now())}}
	if err := mc.conn.SendJSON(frame); err != nil {
		return err
	}

	timeout := mc.stream.config.Timeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-res:
		if err != nil {
			mc.stream.ring.OnAuthFailure()
			return fmt.Errorf("%w: %v", core.ErrLoginFailed, err)
		}
		mc.conn.MarkAuthenticated()
		mc.stream.ring.MarkUsed()
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no ack within %s", core.ErrLoginFailed, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendSubscribe sends one subscribe frame covering the given keys.
func (mc *managedConn) sendSubscribe(keys []core.SubscriptionKey) error {
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		args = append(args, channelArg{Channel: string(key.Channel), InstID: key.InstID})
	}
	return mc.conn.SendJSON(wsRequest{Op: "subscribe", Args: args})
}

// handleFrame is the single dispatch point for inbound frames. It runs
// on the read loop goroutine; the payload is copied before it escapes.
func (mc *managedConn) handleFrame(data []byte) {
	switch classifyFrame(data) {
	case framePong:
		// Liveness is tracked by the connection on every frame.
	case frameEvent:
		mc.handleEvent(data)
	case frameData:
		mc.handleData(data)
	default:
		mc.stream.logger.Debug().Str("conn", mc.label).
			Str("frame", truncate(data, 120)).Msg("unrecognized frame")
	}
}

func (mc *managedConn) handleEvent(data []byte) {
	var event wsEvent
	if err := sonic.Unmarshal(data, &event); err != nil {
		mc.stream.logger.Warn().Err(err).Str("conn", mc.label).Msg("undecodable event frame")
		return
	}

	switch event.Event {
	case "login":
		mc.deliverLogin(nil)
	case "subscribe":
		mc.registry.recordSuccess(event.Arg.key())
		mc.stream.logger.Debug().Stringer("key", event.Arg.key()).
			Str("conn", mc.label).Msg("subscription acknowledged")
	case "unsubscribe":
		mc.stream.logger.Debug().Stringer("key", event.Arg.key()).
			Str("conn", mc.label).Msg("unsubscribe acknowledged")
	case "error":
		mc.handleErrorEvent(&event)
	}
}

func (mc *managedConn) handleErrorEvent(event *wsEvent) {
	// Login rejections arrive as bare error events while a login is
	// pending; everything else is a subscription failure.
	if mc.deliverLogin(classifyBusinessError(0, event.Code, event.Msg)) {
		return
	}

	key := event.Arg.key()
	if key.Channel == "" {
		mc.stream.logger.Warn().Str("code", event.Code).Str("msg", event.Msg).
			Str("conn", mc.label).Msg("websocket error event")
		return
	}

	// The registry keeps the entry either way: a quarantined pair is
	// still replayed on the next reconnect, its failures just stop
	// being noisy.
	switch {
	case mc.registry.recordError(key):
		mc.stream.logger.Warn().Stringer("key", key).
			Str("code", event.Code).Str("msg", event.Msg).Str("conn", mc.label).
			Msg("subscription quarantined after repeated failures")
	case mc.registry.quarantined(key):
		mc.stream.logger.Debug().Stringer("key", key).
			Str("code", event.Code).Str("conn", mc.label).
			Msg("subscription error on quarantined pair")
	default:
		mc.stream.logger.Warn().Stringer("key", key).
			Str("code", event.Code).Str("msg", event.Msg).Str("conn", mc.label).
			Msg("subscription error")
	}
}

// deliverLogin hands the result to a pending login waiter. Returns
// false when no login is in flight.
func (mc *managedConn) deliverLogin(err error) bool {
	mc.loginMu.Lock()
	ch := mc.loginRes
	mc.loginRes = nil
	mc.loginMu.Unlock()

	if ch == nil {
		return false
	}
	ch <- err
	return true
}

func (mc *managedConn) handleData(data []byte) {
	var push wsPush
	if err := sonic.Unmarshal(data, &push); err != nil {
		mc.stream.logger.Warn().Err(err).Str("conn", mc.label).Msg("undecodable data frame")
		return
	}

	key := push.Arg.key()
	handler := mc.registry.handler(key)
	if handler == nil {
		return
	}

	// The read loop reuses its buffer after dispatch returns, so the
	// payload must be copied before it is cached or handed out.
	payload := make([]byte, len(push.Data))
	copy(payload, push.Data)

	mc.stream.cache.set(key, payload)
	mc.invoke(key, handler, payload)
}

// invoke runs one handler, isolating panics so a bad callback cannot
// kill the read loop.
func (mc *managedConn) invoke(key core.SubscriptionKey, handler MessageHandler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			mc.stream.logger.Error().Stringer("key", key).Str("conn", mc.label).
				Interface("panic", r).Msg("subscription handler panicked")
		}
	}()
	handler(key, payload)
}

// handleDisconnect fires on connection loss and starts the reconnect
// loop.
func (mc *managedConn) handleDisconnect(err error) {
	mc.deliverLogin(fmt.Errorf("connection lost: %v", err))

	if !mc.conn.MarkReconnecting() {
		return
	}
	mc.stream.wg.Add(1)
	go mc.reconnectLoop()
}

// reconnectLoop retries the connection with linearly growing waits. On
// success it resets per-session failure counts, re-authenticates
// private connections, and replays the subscription set in batches.
func (mc *managedConn) reconnectLoop() {
	defer mc.stream.wg.Done()

	cfg := mc.stream.config
	for attempt := 1; attempt <= cfg.ReconnectMaxAttempts; attempt++ {
		wait := ws.Backoff(attempt, cfg.ReconnectBase, cfg.ReconnectCeiling)
		mc.stream.logger.Info().Str("conn", mc.label).
			Int("attempt", attempt).Dur("wait", wait).Msg("reconnecting")

		select {
		case <-time.After(wait):
		case <-mc.conn.Done():
			return
		}
		if mc.conn.State() == ws.StateClosed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		err := mc.reconnectOnce(ctx)
		cancel()
		if err == nil {
			mc.stream.logger.Info().Str("conn", mc.label).
				Int("attempt", attempt).Msg("reconnected")
			return
		}

		mc.stream.logger.Warn().Err(err).Str("conn", mc.label).
			Int("attempt", attempt).Msg("reconnect attempt failed")
		mc.conn.MarkReconnecting()
	}

	mc.stream.logger.Error().Str("conn", mc.label).
		Int("attempts", cfg.ReconnectMaxAttempts).Msg("reconnect gave up")
}

func (mc *managedConn) reconnectOnce(ctx context.Context) error {
	if err := mc.conn.Connect(ctx); err != nil {
		return err
	}

	// New session: failure tallies restart, quarantine flags persist.
	mc.registry.resetHealthCounts()

	if mc.private {
		if err := mc.login(ctx); err != nil {
			mc.conn.Disconnect()
			return err
		}
	}
	return mc.resubscribeAll(ctx)
}

// resubscribeAll replays the desired subscription set in batches, with
// a delay between batches so a large replay cannot flood the server.
func (mc *managedConn) resubscribeAll(ctx context.Context) error {
	keys := mc.registry.keys()
	if len(keys) == 0 {
		return nil
	}

	batchSize := mc.stream.config.ResubscribeBatchSize
	for start := 0; start < len(keys); start += batchSize {
		end := start + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := mc.sendSubscribe(keys[start:end]); err != nil {
			return fmt.Errorf("resubscribe batch: %w", err)
		}

		if end < len(keys) {
			select {
			case <-time.After(mc.stream.config.ResubscribeBatchDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	mc.stream.logger.Info().Str("conn", mc.label).
		Int("subscriptions", len(keys)).Msg("subscription set replayed")
	return nil
}

// heartbeatLoop keeps the connection alive with application-level
// pings and forces a reconnect when the stream goes stale.
func (mc *managedConn) heartbeatLoop() {
	defer mc.stream.wg.Done()

	cfg := mc.stream.config
	ticker := time.NewTicker(cfg.HeartbeatTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-mc.conn.Done():
			return
		}
		if mc.conn.State() == ws.StateClosed {
			return
		}
		if !mc.conn.IsActive() {
			continue
		}

		idle := time.Since(mc.conn.LastMessage())
		if idle > cfg.StaleThreshold {
			mc.stream.logger.Warn().Str("conn", mc.label).Dur("idle", idle).
				Msg("stream stale, forcing reconnect")
			mc.conn.Disconnect()
			continue
		}

		mc.mu.Lock()
		due := time.Since(mc.lastPing) >= cfg.PingInterval
		if due {
			mc.lastPing = time.Now()
		}
		mc.mu.Unlock()

		if due {
			if err := mc.conn.WriteText([]byte("ping")); err != nil {
				mc.stream.logger.Warn().Err(err).Str("conn", mc.label).Msg("ping failed")
			}
		}
	}
}
