package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/docrelay/internal/batch"
	"github.com/rickgao/docrelay/internal/config"
	"github.com/rickgao/docrelay/internal/connection"
	"github.com/rickgao/docrelay/internal/metrics"
	"github.com/rickgao/docrelay/internal/protocol"
)

// Config holds request-level settings for a Client.
type Config struct {
	Channel                string // joined by Start when set
	RequestTimeout         time.Duration
	MaxPending             int
	ProgressExtendsTimeout bool
	BatchConcurrency       int
	BatchPolicy            batch.Policy
}

// DefaultConfig returns the built-in request settings.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:   config.DefaultRequestTimeout,
		MaxPending:       config.DefaultMaxPending,
		BatchConcurrency: config.DefaultBatchConcurrency,
		BatchPolicy:      batch.PolicyAny,
	}
}

// ConfigFrom maps the client section of the process configuration. An
// unknown batch policy falls back to PolicyAny; config.Validate rejects it
// earlier.
func ConfigFrom(cc config.ClientConfig) Config {
	policy, _ := batch.ParsePolicy(cc.BatchPolicy)
	cfg := Config{
		Channel:                cc.Channel,
		RequestTimeout:         cc.RequestTimeout,
		MaxPending:             cc.MaxPending,
		ProgressExtendsTimeout: cc.ProgressExtendsTimeout,
		BatchConcurrency:       cc.BatchConcurrency,
		BatchPolicy:            policy,
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = config.DefaultRequestTimeout
	}
	if c.BatchConcurrency < 1 {
		c.BatchConcurrency = config.DefaultBatchConcurrency
	}
}

// CommandHandler receives command requests addressed to this peer. It runs
// on the dispatch goroutine and must not block.
type CommandHandler func(channel string, msg *protocol.CommandMessage)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithMetrics records correlator and progress metrics.
func WithMetrics(m *metrics.RPCMetrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithCommandHandler routes inbound command requests to h. Without one they
// are logged and ignored.
func WithCommandHandler(h CommandHandler) ClientOption {
	return func(c *Client) { c.handler = h }
}

// Client sends commands over a Connection and waits for their responses.
type Client struct {
	conn     *connection.Connection
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.RPCMetrics
	handler  CommandHandler
	corr     *Correlator
	progress *ProgressStream

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.RWMutex
	channel string
}

// NewClient wraps conn. The Client owns conn from here on: Close closes it.
func NewClient(conn *connection.Connection, cfg Config, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.corr = NewCorrelator(logger,
		WithMaxPending(cfg.MaxPending),
		WithProgressExtendsTimeout(cfg.ProgressExtendsTimeout),
		WithRPCMetrics(c.metrics),
	)
	c.progress = NewProgressStream(c.metrics)
	return c
}

// Start begins dispatching inbound envelopes, connects, and joins
// Config.Channel when it is set. Calling Start again only repeats the join.
func (c *Client) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.dispatch()
	})

	if err := c.conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if c.cfg.Channel != "" {
		return c.Join(ctx, c.cfg.Channel)
	}
	return nil
}

// Close closes the Connection, rejects every outstanding request and ends
// all progress subscriptions.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
		c.wg.Wait()
		c.corr.RejectAll(ErrConnectionClosed)
		c.progress.Close()
	})
	return err
}

// Channel returns the channel most recently joined.
func (c *Client) Channel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Progress returns the stream of progress events received by this Client.
func (c *Client) Progress() *ProgressStream {
	return c.progress
}

// Pending returns the number of outstanding requests.
func (c *Client) Pending() int {
	return c.corr.Pending()
}

// Connection returns the underlying Connection.
func (c *Client) Connection() *connection.Connection {
	return c.conn
}

// Join joins channel and waits for the relay's acknowledgement.
func (c *Client) Join(ctx context.Context, channel string) error {
	id := protocol.NewID()
	env, err := protocol.NewJoin(id, channel)
	if err != nil {
		return err
	}

	p, err := c.corr.Register(id, "join", c.cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("join %s: %w", channel, err)
	}
	if err := c.SendEnvelope(env); err != nil {
		c.corr.Reject(id, err)
		return fmt.Errorf("join %s: %w", channel, err)
	}
	if _, err := c.corr.Wait(ctx, p); err != nil {
		return fmt.Errorf("join %s: %w", channel, err)
	}

	c.mu.Lock()
	c.channel = channel
	c.mu.Unlock()
	c.logger.Info("joined channel", "channel", channel)
	return nil
}

// SendEnvelope writes env to the Connection without waiting for anything.
func (c *Client) SendEnvelope(env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return c.conn.Send(data)
}

// Request describes one command to send.
type Request struct {
	Channel string // defaults to the joined channel
	Command string
	Params  any           // nil, json.RawMessage, or any JSON-encodable value
	Timeout time.Duration // defaults to Config.RequestTimeout

	// ProgressBuffer > 0 subscribes the Call to progress for its ID.
	ProgressBuffer int
}

// Call is a command in flight.
type Call struct {
	ID      string
	Channel string
	Command string

	corr        *Correlator
	pending     *Pending
	progress    <-chan ProgressEvent
	unsubscribe func()
}

// Progress returns progress events for this call, or nil when the request
// did not ask for them. The channel closes once Wait returns.
func (c *Call) Progress() <-chan ProgressEvent {
	return c.progress
}

// Wait blocks until the call completes or ctx ends.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	defer c.unsubscribe()
	return c.corr.Wait(ctx, c.pending)
}

// Submit sends a command and returns without waiting for the response.
func (c *Client) Submit(req Request) (*Call, error) {
	channel := req.Channel
	if channel == "" {
		channel = c.Channel()
	}
	if channel == "" {
		return nil, ErrNoChannel
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}

	id := protocol.NewID()
	env, err := protocol.NewCommand(id, channel, req.Command, req.Params)
	if err != nil {
		return nil, err
	}

	call := &Call{ID: id, Channel: channel, Command: req.Command, corr: c.corr, unsubscribe: func() {}}
	if req.ProgressBuffer > 0 {
		call.progress, call.unsubscribe = c.progress.Subscribe(id, req.ProgressBuffer)
	}

	p, err := c.corr.Register(id, req.Command, timeout)
	if err != nil {
		call.unsubscribe()
		return nil, err
	}
	call.pending = p

	if err := c.SendEnvelope(env); err != nil {
		c.corr.Reject(id, err)
		call.unsubscribe()
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}

	c.logger.Debug("command sent", "id", id, "command", req.Command, "channel", channel, "timeout", timeout)
	return call, nil
}

// SendCommand sends a command and waits for its terminal response. A zero
// timeout uses Config.RequestTimeout; an empty channel uses the joined one.
func (c *Client) SendCommand(ctx context.Context, channel, command string, params any, timeout time.Duration) (json.RawMessage, error) {
	call, err := c.Submit(Request{Channel: channel, Command: command, Params: params, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// SendBatch sends command once per params entry. Items run with
// Config.BatchConcurrency under Config.BatchPolicy; opts override both.
func (c *Client) SendBatch(ctx context.Context, channel, command string, params []any, timeout time.Duration, opts ...batch.Option) batch.Result[any, json.RawMessage] {
	all := append([]batch.Option{
		batch.WithConcurrency(c.cfg.BatchConcurrency),
		batch.WithPolicy(c.cfg.BatchPolicy),
	}, opts...)

	return batch.Run(ctx, params, func(ctx context.Context, p any) (json.RawMessage, error) {
		return c.SendCommand(ctx, channel, command, p, timeout)
	}, all...)
}

// dispatch consumes the Connection's streams until they close.
func (c *Client) dispatch() {
	defer c.wg.Done()

	msgs := c.conn.Messages()
	states := c.conn.StateChanges()
	everConnected := false

	for msgs != nil || states != nil {
		select {
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			c.handle(m.Data)

		case sc, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if sc.From == connection.StateConnected && sc.To != connection.StateConnected {
				c.corr.RejectAll(ErrConnectionClosed)
			}
			if sc.To == connection.StateConnected {
				if everConnected {
					c.rejoin()
				}
				everConnected = true
			}
		}
	}

	c.corr.RejectAll(ErrConnectionClosed)
}

// rejoin restores channel membership after a reconnect. The relay keeps no
// state for a dropped peer.
func (c *Client) rejoin() {
	channel := c.Channel()
	if channel == "" {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Join(c.ctx, channel); err != nil {
			c.logger.Warn("rejoin failed", "channel", channel, "error", err)
		}
	}()
}

func (c *Client) handle(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.logger.Warn("dropping malformed envelope", "error", err, "size", len(data))
		return
	}

	switch env.Type {
	case protocol.TypeMessage:
		msg, err := env.Command()
		if err != nil {
			c.logger.Warn("dropping malformed message", "error", err, "id", env.ID)
			return
		}
		switch {
		case msg.Error != "":
			c.corr.Fail(msg.ID, msg.Error)
		case msg.IsTerminal():
			c.corr.Resolve(msg.ID, msg.Result)
		case msg.IsRequest() && c.handler != nil:
			c.handler(env.Channel, msg)
		default:
			c.logger.Debug("ignoring message", "id", msg.ID, "command", msg.Command)
		}

	case protocol.TypeProgress:
		pd, err := env.Progress()
		if err != nil {
			c.logger.Warn("dropping malformed progress", "error", err, "id", env.ID)
			return
		}
		c.corr.Touch(pd.CommandID)
		c.progress.Publish(ProgressEvent{
			CommandID:  pd.CommandID,
			Channel:    env.Channel,
			Data:       *pd,
			ReceivedAt: time.Now(),
		})

	case protocol.TypeSystem:
		if ack, ok := env.JoinAck(); ok {
			result, _ := json.Marshal(ack.Result)
			c.corr.Resolve(ack.ID, result)
			return
		}
		text, _ := env.SystemText()
		c.logger.Info("relay notice", "channel", env.Channel, "message", text)

	case protocol.TypeError:
		text, _ := env.SystemText()
		if env.ID != "" && c.corr.Reject(env.ID, &RelayError{ID: env.ID, Message: text}) {
			return
		}
		c.logger.Warn("relay error", "id", env.ID, "message", text)

	default:
		c.logger.Debug("ignoring envelope", "type", env.Type, "id", env.ID)
	}
}
