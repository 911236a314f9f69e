// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults must succeed: %v", err)
	}

	if cfg.ServiceName != "socket-client" {
		t.Errorf("service_name = %q", cfg.ServiceName)
	}
	if cfg.Binance.WSURL != "wss://stream.binance.com:9443" {
		t.Errorf("binance.ws_url = %q", cfg.Binance.WSURL)
	}
	if len(cfg.Binance.Streams) != 3 || cfg.Binance.Streams[0] != "btcusdt@trade" {
		t.Errorf("binance.streams = %v", cfg.Binance.Streams)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("nats.url = %q", cfg.NATS.URL)
	}
	if cfg.NATS.Subject != "binance.websocket.data" {
		t.Errorf("nats.subject = %q", cfg.NATS.Subject)
	}
	if cfg.Queue.Capacity != 5000 {
		t.Errorf("queue.capacity = %d", cfg.Queue.Capacity)
	}
	if cfg.Workers != 5 {
		t.Errorf("workers = %d", cfg.Workers)
	}
	if cfg.Reconnect.BaseDelay != 5*time.Second || cfg.Reconnect.MaxAttempts != 10 {
		t.Errorf("reconnect = %+v", cfg.Reconnect)
	}
	if cfg.Binance.PingInterval != 30*time.Second {
		t.Errorf("ping_interval = %v", cfg.Binance.PingInterval)
	}
	if cfg.Heartbeat != 60*time.Second {
		t.Errorf("heartbeat_interval = %v", cfg.Heartbeat)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.RecoveryTimeout != 60*time.Second {
		t.Errorf("breaker = %+v", cfg.Breaker)
	}
	if cfg.ConfigStore.Enabled {
		t.Error("config_store must be disabled by default")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SOCKET_NATS_URL", "nats://bus:4222")
	t.Setenv("SOCKET_WORKERS", "8")
	t.Setenv("SOCKET_BINANCE_STREAMS", "ethusdt@trade,ethusdt@ticker")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NATS.URL != "nats://bus:4222" {
		t.Errorf("nats.url = %q", cfg.NATS.URL)
	}
	if cfg.Workers != 8 {
		t.Errorf("workers = %d", cfg.Workers)
	}
	if len(cfg.Binance.Streams) != 2 || cfg.Binance.Streams[0] != "ethusdt@trade" {
		t.Errorf("streams = %v", cfg.Binance.Streams)
	}
}

func TestLoad_FileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
binance:
  ws_url: wss://testnet.binance.vision
queue:
  capacity: 100
logging:
  level: debug
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Binance.WSURL != "wss://testnet.binance.vision" {
		t.Errorf("ws_url = %q", cfg.Binance.WSURL)
	}
	if cfg.Queue.Capacity != 100 {
		t.Errorf("capacity = %d", cfg.Queue.Capacity)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	// незатронутые ключи сохраняют defaults
	if cfg.Workers != 5 {
		t.Errorf("workers = %d", cfg.Workers)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate_Failures(t *testing.T) {
	mk := func(mutate func(*Config)) error {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("baseline Load: %v", err)
		}
		mutate(cfg)
		return cfg.Validate()
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty ws_url", func(c *Config) { c.Binance.WSURL = "" }},
		{"no streams", func(c *Config) { c.Binance.Streams = nil }},
		{"empty nats url", func(c *Config) { c.NATS.URL = "" }},
		{"empty subject", func(c *Config) { c.NATS.Subject = "" }},
		{"zero capacity", func(c *Config) { c.Queue.Capacity = 0 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero max attempts", func(c *Config) { c.Reconnect.MaxAttempts = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad http port", func(c *Config) { c.HTTP.Port = 0 }},
		{"bad metrics path", func(c *Config) { c.HTTP.MetricsPath = "metrics" }},
		{"store enabled without url", func(c *Config) { c.ConfigStore.Enabled = true; c.ConfigStore.URL = "" }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := mk(c.mutate); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
