// Package ws provides the raw websocket connection primitive: dial,
// frame IO, lifecycle state, and liveness tracking. Protocol concerns
// (login, subscribe frames, heartbeat text, reconnect policy) belong to
// the layer above, which drives this type through its callbacks.
package ws

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
)

// Config holds configuration options for a websocket connection.
type Config struct {
	// URL is the websocket server endpoint to connect to.
	URL string
	// HandshakeTimeout bounds the dial plus upgrade.
	HandshakeTimeout time.Duration
	// OnFrame receives every inbound text or binary frame. Called from
	// the read loop goroutine; the slice is only valid for the duration
	// of the call.
	OnFrame func(data []byte)
	// OnDisconnect fires once per connection loss that was not caused
	// by Close. The layer above owns the reconnect decision.
	OnDisconnect func(err error)
}

// Conn manages one websocket connection. It is reusable: after a
// disconnect, Connect may be called again on the same Conn until Close
// retires it.
type Conn struct {
	config Config
	state  *State
	logger zerolog.Logger

	mu            sync.RWMutex
	socket        *gws.Conn
	connectedChan chan struct{}
	stopChan      chan struct{}
	wg            sync.WaitGroup

	// lastMessage is the unix-nano arrival time of the most recent
	// inbound frame, used for staleness detection.
	lastMessage atomic.Int64
}

type connHandler struct {
	conn *Conn
}

// NewConn creates a Conn with the given configuration.
// Default values are applied for any zero-valued configuration fields.
func NewConn(config Config) *Conn {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}

	c := &Conn{
		config:   config,
		state:    &State{},
		logger:   zerolog.Nop(),
		stopChan: make(chan struct{}),
	}
	c.state.Store(StateDisconnected)
	return c
}

// SetLogger configures the logger for the connection.
func (c *Conn) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

func (h *connHandler) OnOpen(socket *gws.Conn) {
	h.conn.state.CompareAndSwap(StateConnecting, StateConnected)
	h.conn.touch()

	h.conn.mu.Lock()
	select {
	case <-h.conn.connectedChan:
	default:
		close(h.conn.connectedChan)
	}
	h.conn.mu.Unlock()

	h.conn.logger.Info().
		Str("url", h.conn.config.URL).
		Msg("websocket connected")
}

func (h *connHandler) OnClose(socket *gws.Conn, err error) {
	prev := h.conn.state.Load()
	if prev == StateClosed {
		return
	}
	h.conn.state.CompareAndSwap(StateConnected, StateDisconnected)
	h.conn.state.CompareAndSwap(StateAuthenticated, StateDisconnected)
	h.conn.state.CompareAndSwap(StateConnecting, StateDisconnected)

	h.conn.logger.Warn().
		Err(err).
		Str("url", h.conn.config.URL).
		Msg("websocket disconnected")

	if h.conn.config.OnDisconnect != nil {
		select {
		case <-h.conn.stopChan:
		default:
			h.conn.config.OnDisconnect(err)
		}
	}
}

func (h *connHandler) OnPing(socket *gws.Conn, payload []byte) {
	h.conn.touch()
	_ = socket.WritePong(nil)
}

func (h *connHandler) OnPong(socket *gws.Conn, payload []byte) {
	h.conn.touch()
}

func (h *connHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	h.conn.touch()

	data := message.Bytes()
	if len(data) == 0 {
		return
	}
	if h.conn.config.OnFrame != nil {
		h.conn.config.OnFrame(data)
	}
}

func (c *Conn) touch() {
	c.lastMessage.Store(time.Now().UnixNano())
}

// LastMessage returns the arrival time of the most recent inbound
// frame, or the zero time if nothing has arrived yet.
func (c *Conn) LastMessage() time.Time {
	nanos := c.lastMessage.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Connect dials the configured URL and blocks until the connection is
// open, the context expires, or the Conn is closed. It may be called
// again after a disconnect.
func (c *Conn) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(StateDisconnected, StateConnecting) &&
		!c.state.CompareAndSwap(StateReconnecting, StateConnecting) {
		current := c.state.Load()
		if current.Active() {
			return nil
		}
		return fmt.Errorf("invalid state for connect: %s", current)
	}

	c.mu.Lock()
	c.connectedChan = make(chan struct{})
	connected := c.connectedChan
	c.mu.Unlock()

	socket, _, err := gws.NewClient(&connHandler{conn: c}, &gws.ClientOption{
		Addr:             c.config.URL,
		HandshakeTimeout: c.config.HandshakeTimeout,
	})
	if err != nil {
		c.state.CompareAndSwap(StateConnecting, StateDisconnected)
		return fmt.Errorf("connect websocket: %w", err)
	}

	c.mu.Lock()
	c.socket = socket
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		socket.ReadLoop()
	}()

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		_ = socket.NetConn().Close()
		c.state.CompareAndSwap(StateConnecting, StateDisconnected)
		return ctx.Err()
	case <-c.stopChan:
		_ = socket.NetConn().Close()
		c.state.Store(StateClosed)
		return fmt.Errorf("connection closed")
	}
}

// MarkAuthenticated transitions the connection to the authenticated
// state after a successful login exchange.
func (c *Conn) MarkAuthenticated() bool {
	return c.state.CompareAndSwap(StateConnected, StateAuthenticated)
}

// MarkReconnecting transitions a disconnected connection into the
// reconnecting state. Returns false if the connection is not in a
// state that allows reconnection.
func (c *Conn) MarkReconnecting() bool {
	return c.state.CompareAndSwap(StateDisconnected, StateReconnecting)
}

// Disconnect drops the underlying socket without retiring the Conn.
// A subsequent Connect establishes a fresh session.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	socket := c.socket
	c.socket = nil
	c.mu.Unlock()

	if socket != nil {
		_ = socket.NetConn().Close()
	}
}

// Close permanently shuts down the connection and releases resources.
func (c *Conn) Close() error {
	prev := c.state.Load()
	if prev == StateClosed {
		return nil
	}
	c.state.Store(StateClosed)

	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}

	c.mu.Lock()
	socket := c.socket
	c.socket = nil
	c.mu.Unlock()

	if socket != nil {
		_ = socket.NetConn().Close()
	}

	c.wg.Wait()
	return nil
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	return c.state.Load()
}

// Done returns a channel that closes when Close retires the Conn.
// Reconnect and monitor loops select on it so their waits cannot
// outlive a shutdown.
func (c *Conn) Done() <-chan struct{} {
	return c.stopChan
}

// IsActive reports whether frames can currently be sent.
func (c *Conn) IsActive() bool {
	return c.state.Load().Active()
}

// WriteText sends a text frame. It returns an error if the connection
// is not active.
func (c *Conn) WriteText(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.socket == nil || !c.state.Load().Active() {
		return fmt.Errorf("websocket not connected")
	}
	return c.socket.WriteMessage(gws.OpcodeText, data)
}

// SendJSON marshals the given value and sends it as a text frame.
func (c *Conn) SendJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return c.WriteText(data)
}

// Backoff returns the wait before reconnect attempt n (1-based): the
// base wait scaled linearly by the attempt number, capped at ceiling.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := base * time.Duration(attempt)
	if wait > ceiling {
		wait = ceiling
	}
	return wait
}
