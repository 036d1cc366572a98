package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/showctl/exabridge/internal/bus"
	"github.com/showctl/exabridge/internal/config"
	"github.com/showctl/exabridge/internal/status"
	"github.com/showctl/exabridge/internal/wire"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   []wire.Command
}

func (f *fakeSubmitter) Submit(_ context.Context, cmd wire.Command) (wire.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	if err := f.errs[cmd.Composition]; err != nil {
		return wire.Reply{}, err
	}
	return wire.Reply{Line: f.replies[cmd.Composition], At: time.Now()}, nil
}

func (f *fakeSubmitter) submitted() []wire.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Command(nil), f.calls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHub(t *testing.T) (*bus.Bus, *bus.Subscription) {
	t.Helper()
	hub := bus.New(config.BusConfig{SubscriberBuffer: 64, OverflowPolicy: config.OverflowDropOldest}, testLogger())
	t.Cleanup(hub.Close)
	return hub, hub.Subscribe()
}

func recvEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return bus.Event{}
}

func TestPollPublishesStatus(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub, sub := testHub(t)
	submitter := &fakeSubmitter{replies: map[string]string{
		"show":  "1,15.65,939,2,300.0",
		"intro": "0,0.0,0,-1,120.0",
	}}
	svc := NewService(context.Background(), config.PollerConfig{
		Enabled:      true,
		Interval:     5,
		Compositions: []string{"show", "intro"},
	}, submitter, hub, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Close()

	first := recvEvent(t, sub.Events())
	second := recvEvent(t, sub.Events())
	if first.Status.Composition != "show" || first.Status.State != status.Playing {
		t.Fatalf("unexpected first status: %+v", first.Status)
	}
	if first.Status.Frame != 939 || first.Status.ClipIndex != 2 || first.Status.Duration != 300 {
		t.Fatalf("unexpected first status: %+v", first.Status)
	}
	if second.Status.Composition != "intro" || second.Status.State != status.Stopped {
		t.Fatalf("unexpected second status: %+v", second.Status)
	}

	for _, cmd := range submitter.submitted() {
		if cmd.Verb != wire.VerbGetStatus {
			t.Fatalf("expected only get:status polls, got %s", cmd.Verb)
		}
	}
}

func TestPollFailuresAreSkipped(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub, sub := testHub(t)
	submitter := &fakeSubmitter{
		replies: map[string]string{
			"good": "2,4.0,96,1,60.0",
			"junk": "not,a,status",
		},
		errs: map[string]error{"down": errors.New("dial tcp: connection refused")},
	}
	svc := NewService(context.Background(), config.PollerConfig{
		Enabled:      true,
		Interval:     5,
		Compositions: []string{"down", "junk", "good"},
	}, submitter, hub, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Close()

	// Only the healthy composition ever reaches the bus, on every cycle.
	for i := 0; i < 3; i++ {
		ev := recvEvent(t, sub.Events())
		if ev.Status.Composition != "good" || ev.Status.State != status.Paused {
			t.Fatalf("unexpected status: %+v", ev.Status)
		}
	}

	stats := svc.Stats()
	if stats.Failed < 2 {
		t.Fatalf("expected at least 2 failures, got %d", stats.Failed)
	}
	if stats.Published < 3 {
		t.Fatalf("expected at least 3 published, got %d", stats.Published)
	}
	if stats.Polled < stats.Published+stats.Failed {
		t.Fatalf("counter mismatch: %+v", stats)
	}
}

func TestDisabledPoller(t *testing.T) {
	hub, sub := testHub(t)
	submitter := &fakeSubmitter{}
	svc := NewService(context.Background(), config.PollerConfig{Enabled: false}, submitter, hub, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !svc.Healthy() {
		t.Fatalf("expected a disabled poller to report healthy")
	}
	time.Sleep(20 * time.Millisecond)
	if len(submitter.submitted()) != 0 {
		t.Fatalf("expected no polls from a disabled poller")
	}
	if len(sub.Events()) != 0 {
		t.Fatalf("expected no events from a disabled poller")
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
