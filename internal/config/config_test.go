package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: relay-1
relay:
  listen_addr: ":4000"
client:
  host: relay.internal
  port: 4000
  channel: design-team
  reconnect_base_delay: 500ms
  jitter: 0.1
`
	path := writeTempFile(t, "config.yaml", yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "relay-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "relay-1")
	}
	if cfg.Relay.ListenAddr != ":4000" {
		t.Errorf("Relay.ListenAddr = %q, want %q", cfg.Relay.ListenAddr, ":4000")
	}
	if cfg.Client.ReconnectBaseDelay != 500*time.Millisecond {
		t.Errorf("Client.ReconnectBaseDelay = %v, want 500ms", cfg.Client.ReconnectBaseDelay)
	}
	if cfg.Client.Jitter != 0.1 {
		t.Errorf("Client.Jitter = %v, want 0.1", cfg.Client.Jitter)
	}
}

func TestLoadTOML(t *testing.T) {
	toml := `
[instance]
id = "relay-toml"

[client]
host = "10.0.0.5"
port = 3056
heartbeat_interval = "15s"

[client.health_check]
enabled = true
min_failures = 5
`
	path := writeTempFile(t, "config.toml", toml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Instance.ID != "relay-toml" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "relay-toml")
	}
	if cfg.Client.HeartbeatInterval != 15*time.Second {
		t.Errorf("Client.HeartbeatInterval = %v, want 15s", cfg.Client.HeartbeatInterval)
	}
	if !cfg.Client.HealthCheck.Enabled || cfg.Client.HealthCheck.MinFailures != 5 {
		t.Errorf("Client.HealthCheck = %+v, want enabled with min_failures 5", cfg.Client.HealthCheck)
	}
	if cfg.Client.URL() != "ws://10.0.0.5:3056/ws" {
		t.Errorf("Client.URL() = %q", cfg.Client.URL())
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_JOURNAL_PASSWORD", "secret123")

	yaml := `
journal:
  enabled: true
  database:
    host: localhost
    name: relay
    user: relay
    password: ${TEST_JOURNAL_PASSWORD}
`
	path := writeTempFile(t, "config.yaml", yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Journal.Database.Password != "secret123" {
		t.Errorf("Journal.Database.Password = %q, want %q", cfg.Journal.Database.Password, "secret123")
	}
}

func TestLoadWithDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, EnvFile), []byte("DOCRELAY_TEST_CHANNEL=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("DOCRELAY_TEST_CHANNEL") })

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("client:\n  channel: ${DOCRELAY_TEST_CHANNEL}\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Client.Channel != "from-dotenv" {
		t.Errorf("Client.Channel = %q, want %q", cfg.Client.Channel, "from-dotenv")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "instance:\n  id: relay-1\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Relay.ListenAddr != DefaultListenAddr {
		t.Errorf("Relay.ListenAddr = %q, want default %q", cfg.Relay.ListenAddr, DefaultListenAddr)
	}
	if cfg.Client.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Client.ReconnectMaxDelay = %v, want default %v", cfg.Client.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.Client.Jitter != DefaultJitter {
		t.Errorf("Client.Jitter = %v, want default %v", cfg.Client.Jitter, DefaultJitter)
	}
	if cfg.Journal.Database.Port != DefaultDBPort {
		t.Errorf("Journal.Database.Port = %d, want default %d", cfg.Journal.Database.Port, DefaultDBPort)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, DefaultMetricsPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return *Default()
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "relative path",
			mutate:  func(c *Config) { c.Relay.Path = "ws" },
			wantErr: `relay.path must start with /, got "ws"`,
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Client.Port = 70000 },
			wantErr: "client.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "jitter out of range",
			mutate:  func(c *Config) { c.Client.Jitter = 1.5 },
			wantErr: "client.jitter must be in [0, 1), got 1.5",
		},
		{
			name: "max delay below base",
			mutate: func(c *Config) {
				c.Client.ReconnectBaseDelay = 10 * time.Second
				c.Client.ReconnectMaxDelay = time.Second
			},
			wantErr: "client.reconnect_max_delay (1s) cannot be less than reconnect_base_delay (10s)",
		},
		{
			name:    "unknown batch policy",
			mutate:  func(c *Config) { c.Client.BatchPolicy = "most" },
			wantErr: `client.batch_policy must be any or all, got "most"`,
		},
		{
			name:    "journal missing host",
			mutate:  func(c *Config) { c.Journal.Enabled = true },
			wantErr: "journal.database.host is required",
		},
		{
			name: "journal min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 2, MinConns: 5}
			},
			wantErr: "journal.database.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: `logging.level must be one of debug, info, warn, error, got "loud"`,
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
