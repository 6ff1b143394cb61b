package config

import (
	"fmt"
	"time"
)

// Config is the root configuration shared by the relay and its clients.
type Config struct {
	Instance InstanceConfig `yaml:"instance" toml:"instance"`
	Relay    RelayConfig    `yaml:"relay"    toml:"relay"`
	Client   ClientConfig   `yaml:"client"   toml:"client"`
	Journal  JournalConfig  `yaml:"journal"  toml:"journal"`
	Logging  LoggingConfig  `yaml:"logging"  toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"  toml:"metrics"`
}

// InstanceConfig identifies this process in logs and the journal.
type InstanceConfig struct {
	ID string `yaml:"id" toml:"id"`
}

// RelayConfig holds relay server settings.
type RelayConfig struct {
	ListenAddr     string        `yaml:"listen_addr"      toml:"listen_addr"`
	Path           string        `yaml:"path"             toml:"path"`
	WriteTimeout   time.Duration `yaml:"write_timeout"    toml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"    toml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"     toml:"pong_timeout"`
	PeerBufferSize int           `yaml:"peer_buffer_size" toml:"peer_buffer_size"`
	MaxMessageSize int64         `yaml:"max_message_size" toml:"max_message_size"`
}

// ClientConfig holds settings for a relay connection (automation client or host).
type ClientConfig struct {
	Host    string `yaml:"host"    toml:"host"`
	Port    int    `yaml:"port"    toml:"port"`
	Path    string `yaml:"path"    toml:"path"`
	TLS     bool   `yaml:"tls"     toml:"tls"`
	Channel string `yaml:"channel" toml:"channel"`

	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay" toml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"  toml:"reconnect_max_delay"`
	MaxReconnects      int           `yaml:"max_reconnects"       toml:"max_reconnects"` // 0 = unlimited
	Jitter             float64       `yaml:"jitter"               toml:"jitter"`         // fraction, 0-1
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"   toml:"heartbeat_interval"`
	HeartbeatTimeout   time.Duration `yaml:"heartbeat_timeout"    toml:"heartbeat_timeout"`

	HealthCheck HealthCheckConfig `yaml:"health_check" toml:"health_check"`

	RequestTimeout         time.Duration `yaml:"request_timeout"          toml:"request_timeout"`
	MaxPending             int           `yaml:"max_pending"              toml:"max_pending"`
	ProgressExtendsTimeout bool          `yaml:"progress_extends_timeout" toml:"progress_extends_timeout"`
	BatchConcurrency       int           `yaml:"batch_concurrency"        toml:"batch_concurrency"`
	BatchPolicy            string        `yaml:"batch_policy"             toml:"batch_policy"` // any | all
}

// HealthCheckConfig controls the out-of-band reachability probe.
type HealthCheckConfig struct {
	Enabled     bool          `yaml:"enabled"      toml:"enabled"`
	Interval    time.Duration `yaml:"interval"     toml:"interval"`
	MinFailures int           `yaml:"min_failures" toml:"min_failures"`
	Timeout     time.Duration `yaml:"timeout"      toml:"timeout"`
}

// JournalConfig holds the relay traffic journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"        toml:"enabled"`
	Database      DBConfig      `yaml:"database"       toml:"database"`
	BatchSize     int           `yaml:"batch_size"     toml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" toml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"    toml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"      toml:"host"`
	Port     int    `yaml:"port"      toml:"port"`
	Name     string `yaml:"name"      toml:"name"`
	User     string `yaml:"user"      toml:"user"`
	Password string `yaml:"password"  toml:"password"`
	SSLMode  string `yaml:"ssl_mode"  toml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns" toml:"max_conns"`
	MinConns int    `yaml:"min_conns" toml:"min_conns"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"  toml:"level"`  // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text or json
	File   string `yaml:"file"   toml:"file"`   // empty = stdout

	MaxSizeMB  int  `yaml:"max_size_mb"  toml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"  toml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool `yaml:"compress"     toml:"compress"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path"    toml:"path"`
}

// URL returns the websocket URL of the relay this client dials.
func (cc ClientConfig) URL() string {
	scheme := "ws"
	if cc.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, cc.Host, cc.Port, cc.Path)
}

// HealthURL returns the relay's HTTP health endpoint for the same host.
func (cc ClientConfig) HealthURL() string {
	scheme := "http"
	if cc.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/healthz", scheme, cc.Host, cc.Port)
}
