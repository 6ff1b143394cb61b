package connection

import (
	"errors"
	"time"

	"github.com/rickgao/docrelay/internal/config"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrStaleConnection    = errors.New("connection stale (no heartbeat ack)")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateChange is published on every state transition.
type StateChange struct {
	From State
	To   State
	At   time.Time
	Err  error // cause of leaving Connected, if any
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Stats is a point-in-time snapshot of a Connection.
type Stats struct {
	State             State
	Connects          int64 // successful dials, including the first
	Attempts          int   // reconnect attempts since the last successful connect
	Failures          int   // consecutive dial failures
	MessagesIn        int64
	MessagesOut       int64
	LastAck           time.Time
	DisconnectedSince time.Time // zero while connected
	LastHealth        HealthResult
}

// Config configures a Connection.
type Config struct {
	Name      string // label for logs and metrics
	URL       string // websocket URL, e.g. ws://localhost:3055/ws
	HealthURL string // HTTP reachability probe target

	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int     // 0 = unlimited
	Jitter       float64 // fraction in [0, 1)

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	HealthCheck            bool
	HealthCheckInterval    time.Duration
	HealthCheckMinFailures int
	HealthCheckTimeout     time.Duration

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int // Messages() channel capacity
}

// DefaultConfig returns sensible defaults for the given target.
func DefaultConfig(url string) Config {
	return Config{
		Name:                   "relay",
		URL:                    url,
		InitialDelay:           config.DefaultReconnectBaseDelay,
		MaxDelay:               config.DefaultReconnectMaxDelay,
		Jitter:                 config.DefaultJitter,
		HeartbeatInterval:      config.DefaultHeartbeatInterval,
		HeartbeatTimeout:       config.DefaultHeartbeatTimeout,
		HealthCheckInterval:    config.DefaultHealthInterval,
		HealthCheckMinFailures: config.DefaultHealthMinFailures,
		HealthCheckTimeout:     config.DefaultHealthTimeout,
		HandshakeTimeout:       10 * time.Second,
		WriteTimeout:           5 * time.Second,
		BufferSize:             1000,
	}
}

// ConfigFrom maps the client section of the process configuration.
func ConfigFrom(cc config.ClientConfig) Config {
	cfg := DefaultConfig(cc.URL())
	cfg.Name = cc.Channel
	cfg.HealthURL = cc.HealthURL()
	cfg.InitialDelay = cc.ReconnectBaseDelay
	cfg.MaxDelay = cc.ReconnectMaxDelay
	cfg.MaxAttempts = cc.MaxReconnects
	cfg.Jitter = cc.Jitter
	cfg.HeartbeatInterval = cc.HeartbeatInterval
	cfg.HeartbeatTimeout = cc.HeartbeatTimeout
	cfg.HealthCheck = cc.HealthCheck.Enabled
	cfg.HealthCheckInterval = cc.HealthCheck.Interval
	cfg.HealthCheckMinFailures = cc.HealthCheck.MinFailures
	cfg.HealthCheckTimeout = cc.HealthCheck.Timeout
	return cfg
}

func (c *Config) applyDefaults() {
	d := DefaultConfig(c.URL)
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = d.Jitter
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.HealthCheckMinFailures <= 0 {
		c.HealthCheckMinFailures = d.HealthCheckMinFailures
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = d.HealthCheckTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
}
