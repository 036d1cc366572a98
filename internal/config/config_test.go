package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Device.Host != "192.168.1.174" || cfg.Device.Port != 7000 {
		t.Fatalf("unexpected device defaults: %s:%d", cfg.Device.Host, cfg.Device.Port)
	}
	if cfg.Device.MaxAttempts != 4 {
		t.Fatalf("expected default retry budget 4, got %d", cfg.Device.MaxAttempts)
	}
	if cfg.Bus.OverflowPolicy != "drop-oldest" {
		t.Fatalf("expected drop-oldest default, got %q", cfg.Bus.OverflowPolicy)
	}
	if cfg.OSC.Enabled || cfg.Poller.Enabled {
		t.Fatal("status producers must be disabled by default")
	}
	if cfg.Journal.RetentionMode != "ephemeral" {
		t.Fatalf("expected ephemeral journal default, got %q", cfg.Journal.RetentionMode)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EXABRIDGE_DEVICE_HOST", "10.0.0.5")
	t.Setenv("EXABRIDGE_DEVICE_PORT", "7001")
	t.Setenv("EXABRIDGE_DEVICE_MAX_ATTEMPTS", "2")
	t.Setenv("EXABRIDGE_DEVICE_BACKOFF_JITTER", "0.2")
	t.Setenv("EXABRIDGE_OSC_ENABLED", "true")
	t.Setenv("EXABRIDGE_OSC_LISTEN", "127.0.0.1:9000")
	t.Setenv("EXABRIDGE_POLLER_ENABLED", "true")
	t.Setenv("EXABRIDGE_POLLER_COMPOSITIONS", "comp1, comp2")
	t.Setenv("EXABRIDGE_BUS_OVERFLOW_POLICY", "drop-newest")
	t.Setenv("EXABRIDGE_HTTP_API_TOKEN", "0123456789abcdef0123456789abcdef")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Device.Host != "10.0.0.5" || cfg.Device.Port != 7001 {
		t.Fatalf("expected device overrides, got %s:%d", cfg.Device.Host, cfg.Device.Port)
	}
	if cfg.Device.MaxAttempts != 2 {
		t.Fatalf("expected retry budget override, got %d", cfg.Device.MaxAttempts)
	}
	if cfg.Device.BackoffJitter != 0.2 {
		t.Fatalf("expected jitter override, got %v", cfg.Device.BackoffJitter)
	}
	if !cfg.OSC.Enabled || cfg.OSC.Listen != "127.0.0.1:9000" {
		t.Fatalf("expected osc overrides, got %+v", cfg.OSC)
	}
	if len(cfg.Poller.Compositions) != 2 || cfg.Poller.Compositions[1] != "comp2" {
		t.Fatalf("expected 2 tracked compositions, got %v", cfg.Poller.Compositions)
	}
	if cfg.Bus.OverflowPolicy != "drop-newest" {
		t.Fatalf("expected overflow policy override, got %q", cfg.Bus.OverflowPolicy)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exabridge.yaml")
	body := []byte("device:\n  host: 172.16.0.9\n  port: 7100\npoller:\n  enabled: true\n  interval_ms: 250\n  compositions: [main]\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Device.Host != "172.16.0.9" || cfg.Device.Port != 7100 {
		t.Fatalf("expected yaml device override, got %s:%d", cfg.Device.Host, cfg.Device.Port)
	}
	if !cfg.Poller.Enabled || cfg.Poller.Interval != 250 {
		t.Fatalf("expected yaml poller override, got %+v", cfg.Poller)
	}
	if cfg.Device.CommandTimeout != 5000 {
		t.Fatalf("expected untouched default timeout, got %d", cfg.Device.CommandTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.Device.MaxAttempts = 0 }},
		{"jitter too large", func(c *Config) { c.Device.BackoffJitter = 0.5 }},
		{"backoff cap below initial", func(c *Config) { c.Device.BackoffMax = 1 }},
		{"short api token", func(c *Config) { c.HTTP.APIToken = "short" }},
		{"bad overflow policy", func(c *Config) { c.Bus.OverflowPolicy = "block" }},
		{"poller without compositions", func(c *Config) { c.Poller.Enabled = true }},
		{"bad retention mode", func(c *Config) { c.Journal.RetentionMode = "session" }},
		{"bad qos", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
