package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if !strings.HasPrefix(c.Relay.Path, "/") {
		return fmt.Errorf("relay.path must start with /, got %q", c.Relay.Path)
	}
	if c.Relay.PeerBufferSize < 1 {
		return errors.New("relay.peer_buffer_size must be >= 1")
	}
	if c.Relay.PongTimeout <= c.Relay.PingInterval {
		return fmt.Errorf("relay.pong_timeout (%s) must exceed relay.ping_interval (%s)",
			c.Relay.PongTimeout, c.Relay.PingInterval)
	}

	if err := c.Client.validate(); err != nil {
		return err
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (cc *ClientConfig) validate() error {
	if cc.Host == "" {
		return errors.New("client.host is required")
	}
	if cc.Port < 1 || cc.Port > 65535 {
		return fmt.Errorf("client.port must be between 1 and 65535, got %d", cc.Port)
	}
	if cc.ReconnectBaseDelay <= 0 {
		return errors.New("client.reconnect_base_delay must be > 0")
	}
	if cc.ReconnectMaxDelay < cc.ReconnectBaseDelay {
		return fmt.Errorf("client.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			cc.ReconnectMaxDelay, cc.ReconnectBaseDelay)
	}
	if cc.MaxReconnects < 0 {
		return errors.New("client.max_reconnects must be >= 0")
	}
	if cc.Jitter < 0 || cc.Jitter >= 1 {
		return fmt.Errorf("client.jitter must be in [0, 1), got %g", cc.Jitter)
	}
	if cc.HeartbeatTimeout <= 0 {
		return errors.New("client.heartbeat_timeout must be > 0")
	}
	if cc.MaxPending < 1 {
		return errors.New("client.max_pending must be >= 1")
	}
	if cc.BatchConcurrency < 1 {
		return errors.New("client.batch_concurrency must be >= 1")
	}
	switch strings.ToLower(cc.BatchPolicy) {
	case "any", "all":
	default:
		return fmt.Errorf("client.batch_policy must be any or all, got %q", cc.BatchPolicy)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
