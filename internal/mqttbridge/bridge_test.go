package mqttbridge

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/showctl/exabridge/internal/bus"
	"github.com/showctl/exabridge/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testHub(t *testing.T) *bus.Bus {
	t.Helper()
	hub := bus.New(config.BusConfig{SubscriberBuffer: 16, OverflowPolicy: config.OverflowDropOldest}, testLogger())
	t.Cleanup(hub.Close)
	return hub
}

func TestStatusTopicSanitizes(t *testing.T) {
	cases := []struct {
		composition string
		want        string
	}{
		{"show", "exaplay/status/show"},
		{"main show", "exaplay/status/main show"},
		{"a/b", "exaplay/status/a_b"},
		{"lobby+", "exaplay/status/lobby_"},
		{"#all", "exaplay/status/_all"},
	}
	for _, tc := range cases {
		if got := StatusTopic("exaplay", tc.composition); got != tc.want {
			t.Fatalf("StatusTopic(%q) = %q, want %q", tc.composition, got, tc.want)
		}
	}
	if got := StatusTopic("venue/av/", "show"); got != "venue/av/status/show" {
		t.Fatalf("unexpected topic with trailing slash prefix: %q", got)
	}
}

func TestClientOptionsFromConfig(t *testing.T) {
	svc := NewService(context.Background(), config.MQTTConfig{
		Enabled:        true,
		Broker:         "tcp://broker.local:1883",
		ClientID:       "exabridge-1",
		Username:       "av",
		Password:       "secret",
		ConnectTimeout: 2000,
	}, testHub(t), testLogger())

	opts := svc.clientOptions()
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://broker.local:1883" {
		t.Fatalf("unexpected brokers: %v", opts.Servers)
	}
	if opts.ClientID != "exabridge-1" {
		t.Fatalf("unexpected client id %q", opts.ClientID)
	}
	if opts.Username != "av" || opts.Password != "secret" {
		t.Fatalf("credentials not applied")
	}
	if !opts.AutoReconnect {
		t.Fatalf("expected auto reconnect")
	}
}

func TestStartFailsFastWhenBrokerUnreachable(t *testing.T) {
	svc := NewService(context.Background(), config.MQTTConfig{
		Enabled:        true,
		Broker:         "tcp://127.0.0.1:1",
		ClientID:       "exabridge-test",
		ConnectTimeout: 500,
	}, testHub(t), testLogger())

	if err := svc.Start(); err == nil {
		svc.Close()
		t.Fatalf("expected start to fail against an unreachable broker")
	}
	if svc.Healthy() {
		t.Fatalf("expected unhealthy bridge after failed start")
	}
}

func TestDisabledBridge(t *testing.T) {
	svc := NewService(context.Background(), config.MQTTConfig{Enabled: false}, testHub(t), testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !svc.Healthy() {
		t.Fatalf("expected a disabled bridge to report healthy")
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
