package connection

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/docrelay/internal/metrics"
)

// Option customizes a Connection.
type Option func(*Connection)

// WithMetrics records connection metrics.
func WithMetrics(m *metrics.ConnectionMetrics) Option {
	return func(c *Connection) { c.metrics = m }
}

// WithHeader adds headers to every websocket handshake.
func WithHeader(h http.Header) Option {
	return func(c *Connection) { c.header = h.Clone() }
}

// WithHTTPClient sets the client used for health probes.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Connection) { c.httpClient = hc }
}

// Connection is a self-healing websocket client.
//
// One supervisor goroutine owns dialing, backoff and teardown. While a socket
// is live it also runs one read goroutine and one heartbeat goroutine.
type Connection struct {
	cfg        Config
	logger     *slog.Logger
	metrics    *metrics.ConnectionMetrics
	header     http.Header
	httpClient *http.Client
	backoff    Backoff
	health     *healthProber
	jitter     func() float64

	// Output channels
	messages chan TimestampedMessage
	errors   chan error
	states   chan StateChange
	done     chan struct{}

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	ready     chan struct{}
	readyErr  error
	readyOnce sync.Once

	// Write serialization
	writeMu sync.Mutex

	// State
	mu             sync.RWMutex
	state          State
	conn           *websocket.Conn
	started        bool
	closed         bool
	graceful       bool
	attempts       int
	failures       int
	lastAck        time.Time
	disconnectedAt time.Time

	connects    atomic.Int64
	messagesIn  atomic.Int64
	messagesOut atomic.Int64
}

// New creates a Connection. Nothing is dialed until Connect.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		cfg:      cfg,
		logger:   logger.With("conn", cfg.Name),
		backoff:  Backoff{Initial: cfg.InitialDelay, Max: cfg.MaxDelay, Jitter: cfg.Jitter},
		jitter:   rand.Float64,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 16),
		states:   make(chan StateChange, 64),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.HealthCheck && cfg.HealthURL != "" {
		c.health = newHealthProber(cfg, c.httpClient, c.logger, func(res HealthResult) {
			c.metrics.HealthProbe(c.cfg.Name, res.Healthy)
		})
	}

	return c
}

// Connect starts the supervisor and waits for the first successful dial.
//
// It returns nil once connected, ErrReconnectExhausted if the attempt budget
// runs out first, or ctx.Err() if ctx ends first; in the last case the
// Connection keeps trying in the background. Calling Connect on a running
// Connection is a no-op that waits the same way.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	if !c.started {
		c.started = true
		go c.run()
	}
	c.mu.Unlock()

	select {
	case <-c.ready:
		return c.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes one text frame. It returns ErrNotConnected when no socket is live.
func (c *Connection) Send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.messagesOut.Add(1)
	return nil
}

// Close stops reconnecting and closes the socket with a close frame.
func (c *Connection) Close() error {
	c.shutdown(true)
	return nil
}

// Terminate stops reconnecting and drops the socket without a close frame.
func (c *Connection) Terminate() {
	c.shutdown(false)
}

func (c *Connection) shutdown(graceful bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	c.graceful = graceful
	started := c.started
	c.mu.Unlock()

	c.cancel()
	if !started {
		c.finish(ErrAlreadyClosed)
	}
	<-c.done
}

// ForceDisconnect drops the live socket as if the network failed. The
// Connection treats it as an unexpected close and reconnects.
func (c *Connection) ForceDisconnect() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

// Messages returns inbound frames. Closed when the Connection is done.
func (c *Connection) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns transport errors. Sends never block; excess errors are dropped.
func (c *Connection) Errors() <-chan error {
	return c.errors
}

// StateChanges returns state transitions in order.
func (c *Connection) StateChanges() <-chan StateChange {
	return c.states
}

// Done is closed once the Connection reaches its terminal state.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether a socket is live.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Stats returns a snapshot of counters and timestamps.
func (c *Connection) Stats() Stats {
	c.mu.RLock()
	s := Stats{
		State:             c.state,
		Attempts:          c.attempts,
		Failures:          c.failures,
		LastAck:           c.lastAck,
		DisconnectedSince: c.disconnectedAt,
	}
	c.mu.RUnlock()

	s.Connects = c.connects.Load()
	s.MessagesIn = c.messagesIn.Load()
	s.MessagesOut = c.messagesOut.Load()
	if c.health != nil {
		s.LastHealth = c.health.Last()
	}
	return s
}

// run is the supervisor loop.
func (c *Connection) run() {
	var exitErr error
	defer func() { c.finish(exitErr) }()

	for {
		c.setState(StateConnecting, nil)

		conn, err := c.dial()
		if err == nil {
			c.onConnected(conn)
			cause := c.serve(conn)
			if c.ctx.Err() != nil {
				return
			}
			c.onDisconnected(cause)
		} else {
			if c.ctx.Err() != nil {
				return
			}
			c.onDialFailed(err)
		}

		delay, ok := c.scheduleReconnect()
		if !ok {
			exitErr = ErrReconnectExhausted
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (c *Connection) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	for k, v := range c.header {
		header[k] = v
	}

	conn, _, err := dialer.DialContext(c.ctx, c.cfg.URL, header)
	return conn, err
}

func (c *Connection) onConnected(conn *websocket.Conn) {
	now := time.Now()

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.failures = 0
	c.lastAck = now
	c.disconnectedAt = time.Time{}
	c.mu.Unlock()

	// Pings from the relay and pongs to our heartbeat both count as acks.
	conn.SetPingHandler(func(data string) error {
		c.ack()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		c.ack()
		return nil
	})

	c.connects.Add(1)
	c.setState(StateConnected, nil)
	c.markReady(nil)

	c.logger.Info("websocket connected", "url", c.cfg.URL)
}

func (c *Connection) onDisconnected(cause error) {
	c.mu.Lock()
	if c.disconnectedAt.IsZero() {
		c.disconnectedAt = time.Now()
	}
	c.mu.Unlock()

	if errors.Is(cause, ErrStaleConnection) {
		c.metrics.HeartbeatTimeout(c.cfg.Name)
	}
	c.logger.Warn("websocket disconnected", "error", cause)
	c.emitError(cause)
}

func (c *Connection) onDialFailed(err error) {
	c.mu.Lock()
	c.failures++
	failures := c.failures
	if c.disconnectedAt.IsZero() {
		c.disconnectedAt = time.Now()
	}
	c.mu.Unlock()

	c.setState(StateDisconnected, err)
	c.logger.Warn("websocket dial failed", "error", err, "failures", failures)
	c.emitError(err)
}

// scheduleReconnect advances the attempt counter and returns the next delay,
// or false once the attempt budget is spent.
func (c *Connection) scheduleReconnect() (time.Duration, bool) {
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	failures := c.failures
	outage := time.Since(c.disconnectedAt)
	c.mu.Unlock()

	if c.cfg.MaxAttempts > 0 && attempts > c.cfg.MaxAttempts {
		c.logger.Error("giving up reconnecting", "attempts", attempts-1)
		c.emitError(ErrReconnectExhausted)
		return 0, false
	}

	c.setState(StateReconnecting, nil)
	c.metrics.ReconnectScheduled(c.cfg.Name)

	if c.health != nil {
		c.health.maybeProbe(c.ctx, failures)
	}

	delay := c.backoff.Delay(attempts, outage, c.jitter())
	c.logger.Info("reconnect scheduled",
		"attempt", attempts,
		"delay", delay,
		"outage", outage.Round(time.Millisecond),
	)
	return delay, true
}

// serve runs the socket until it fails or the Connection is shut down and
// returns the cause of the failure.
func (c *Connection) serve(conn *websocket.Conn) error {
	sockDone := make(chan struct{})
	readErr := make(chan error, 1)
	staleErr := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		readErr <- c.readLoop(conn, sockDone)
	}()
	go func() {
		defer wg.Done()
		c.heartbeatLoop(conn, sockDone, staleErr)
	}()

	var cause error
	select {
	case cause = <-readErr:
	case cause = <-staleErr:
	case <-c.ctx.Done():
	}
	close(sockDone)

	c.mu.Lock()
	c.conn = nil
	graceful := c.graceful
	c.mu.Unlock()

	if c.ctx.Err() != nil && graceful {
		c.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
	}
	conn.Close()
	wg.Wait()

	// Leaving Connected; anything still waiting on this socket must give up.
	if c.ctx.Err() == nil {
		c.setState(StateDisconnected, cause)
	}
	return cause
}

// readLoop reads frames until the socket fails.
func (c *Connection) readLoop(conn *websocket.Conn, sockDone <-chan struct{}) error {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			return err
		}

		c.messagesIn.Add(1)
		msg := TimestampedMessage{Data: data, ReceivedAt: receivedAt}

		select {
		case c.messages <- msg:
		case <-sockDone:
			return nil
		}
	}
}

// heartbeatLoop pings on an interval and reports a stale socket when a ping
// goes unacknowledged for HeartbeatTimeout.
func (c *Connection) heartbeatLoop(conn *websocket.Conn, sockDone <-chan struct{}, stale chan<- error) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var (
		deadline *time.Timer
		expired  <-chan time.Time
		sentAt   time.Time
	)
	defer func() {
		if deadline != nil {
			deadline.Stop()
		}
	}()

	for {
		select {
		case <-sockDone:
			return

		case <-ticker.C:
			if expired != nil {
				continue
			}
			sentAt = time.Now()
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), sentAt.Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}
			deadline = time.NewTimer(c.cfg.HeartbeatTimeout)
			expired = deadline.C

		case <-expired:
			expired = nil
			lastAck := c.lastAckAt()
			if lastAck.Before(sentAt) {
				c.logger.Warn("no heartbeat ack, connection stale",
					"last_ack", lastAck,
					"timeout", c.cfg.HeartbeatTimeout,
				)
				stale <- ErrStaleConnection
				return
			}
		}
	}
}

func (c *Connection) ack() {
	c.mu.Lock()
	c.lastAck = time.Now()
	c.mu.Unlock()
}

func (c *Connection) lastAckAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastAck
}

func (c *Connection) setState(to State, cause error) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.mu.Unlock()

	c.metrics.StateChanged(c.cfg.Name, to.String(), to == StateConnected)
	c.logger.Debug("state change", "from", from, "to", to)

	select {
	case c.states <- StateChange{From: from, To: to, At: time.Now(), Err: cause}:
	default:
		c.logger.Warn("state change buffer full, dropping", "to", to)
	}
}

func (c *Connection) emitError(err error) {
	if err == nil {
		return
	}
	select {
	case c.errors <- err:
	default:
	}
}

func (c *Connection) markReady(err error) {
	c.readyOnce.Do(func() {
		c.readyErr = err
		close(c.ready)
	})
}

// finish moves to the terminal state and closes the output channels.
func (c *Connection) finish(err error) {
	if c.health != nil {
		c.health.wait()
	}
	c.setState(StateDisconnected, err)
	if err == nil {
		err = ErrAlreadyClosed
	}
	c.markReady(err)
	c.cancel()

	close(c.messages)
	close(c.errors)
	close(c.states)
	close(c.done)

	c.logger.Debug("connection finished")
}
