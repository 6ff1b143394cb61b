package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID         = "docrelay"
	DefaultListenAddr         = ":3055"
	DefaultPath               = "/ws"
	DefaultWriteTimeout       = 5 * time.Second
	DefaultRelayPingInterval  = 30 * time.Second
	DefaultPongTimeout        = 60 * time.Second
	DefaultPeerBufferSize     = 256
	DefaultMaxMessageSize     = 16 << 20
	DefaultHost               = "localhost"
	DefaultPort               = 3055
	DefaultReconnectBaseDelay = 2 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultJitter             = 0.2
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultHeartbeatTimeout   = 10 * time.Second
	DefaultHealthInterval     = 30 * time.Second
	DefaultHealthMinFailures  = 3
	DefaultHealthTimeout      = 5 * time.Second
	DefaultRequestTimeout     = 30 * time.Second
	DefaultMaxPending         = 1024
	DefaultBatchConcurrency   = 1
	DefaultBatchPolicy        = "any"
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultLogMaxSizeMB       = 100
	DefaultLogMaxBackups      = 3
	DefaultLogMaxAgeDays      = 28
	DefaultMetricsPath        = "/metrics"
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Relay defaults
	if c.Relay.ListenAddr == "" {
		c.Relay.ListenAddr = DefaultListenAddr
	}
	if c.Relay.Path == "" {
		c.Relay.Path = DefaultPath
	}
	if c.Relay.WriteTimeout == 0 {
		c.Relay.WriteTimeout = DefaultWriteTimeout
	}
	if c.Relay.PingInterval == 0 {
		c.Relay.PingInterval = DefaultRelayPingInterval
	}
	if c.Relay.PongTimeout == 0 {
		c.Relay.PongTimeout = DefaultPongTimeout
	}
	if c.Relay.PeerBufferSize == 0 {
		c.Relay.PeerBufferSize = DefaultPeerBufferSize
	}
	if c.Relay.MaxMessageSize == 0 {
		c.Relay.MaxMessageSize = DefaultMaxMessageSize
	}

	// Client defaults
	if c.Client.Host == "" {
		c.Client.Host = DefaultHost
	}
	if c.Client.Port == 0 {
		c.Client.Port = DefaultPort
	}
	if c.Client.Path == "" {
		c.Client.Path = DefaultPath
	}
	if c.Client.ReconnectBaseDelay == 0 {
		c.Client.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Client.ReconnectMaxDelay == 0 {
		c.Client.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Client.Jitter == 0 {
		c.Client.Jitter = DefaultJitter
	}
	if c.Client.HeartbeatInterval == 0 {
		c.Client.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Client.HeartbeatTimeout == 0 {
		c.Client.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Client.HealthCheck.Interval == 0 {
		c.Client.HealthCheck.Interval = DefaultHealthInterval
	}
	if c.Client.HealthCheck.MinFailures == 0 {
		c.Client.HealthCheck.MinFailures = DefaultHealthMinFailures
	}
	if c.Client.HealthCheck.Timeout == 0 {
		c.Client.HealthCheck.Timeout = DefaultHealthTimeout
	}
	if c.Client.RequestTimeout == 0 {
		c.Client.RequestTimeout = DefaultRequestTimeout
	}
	if c.Client.MaxPending == 0 {
		c.Client.MaxPending = DefaultMaxPending
	}
	if c.Client.BatchConcurrency == 0 {
		c.Client.BatchConcurrency = DefaultBatchConcurrency
	}
	if c.Client.BatchPolicy == "" {
		c.Client.BatchPolicy = DefaultBatchPolicy
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
