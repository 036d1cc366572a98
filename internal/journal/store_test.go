package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/showctl/exabridge/internal/bus"
	"github.com/showctl/exabridge/internal/config"
	"github.com/showctl/exabridge/internal/status"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func playingStatus(comp string, clip int) status.Status {
	return status.Status{
		Composition: comp,
		State:       status.Playing,
		Time:        15.65,
		Frame:       939,
		ClipIndex:   clip,
		Duration:    300,
	}
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.JournalConfig{RetentionMode: config.RetentionEphemeral}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if s.Persistent() {
		t.Fatalf("expected ephemeral store")
	}
	if err := s.Append(context.Background(), 1, playingStatus("show", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing journaled, got %d", n)
	}
	records, err := s.ListComposition(context.Background(), "show", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestAppendAndList(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: config.RetentionPersistent}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	for seq, st := range []status.Status{
		playingStatus("show", 1),
		playingStatus("show", 2),
		playingStatus("intro", 1),
	} {
		if err := s.Append(context.Background(), uint64(seq+1), st); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	records, err := s.ListComposition(context.Background(), "show", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	newest := records[0]
	if newest.Seq != 2 || newest.Status.ClipIndex != 2 {
		t.Fatalf("expected newest first, got %+v", newest)
	}
	if newest.Status.Composition != "show" || newest.Status.State != status.Playing {
		t.Fatalf("unexpected status round trip: %+v", newest.Status)
	}
	if newest.Status.Time != 15.65 || newest.Status.Frame != 939 || newest.Status.Duration != 300 {
		t.Fatalf("unexpected status round trip: %+v", newest.Status)
	}
	if newest.CreatedAt.IsZero() {
		t.Fatalf("expected created timestamp")
	}
}

func TestPruneByDaysAndMaxEvents(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{
		Path:          filepath.Join(tmp, "journal.db"),
		RetentionMode: config.RetentionPersistent,
		RetentionDays: 1,
		MaxEvents:     2,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(context.Background(), 1, playingStatus("show", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	for seq := uint64(2); seq <= 4; seq++ {
		if err := s.Append(context.Background(), seq, playingStatus("show", int(seq))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := s.ListComposition(context.Background(), "show", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 surviving records, got %d", len(records))
	}
	if records[0].Seq != 4 || records[1].Seq != 3 {
		t.Fatalf("expected newest records to survive, got %d and %d", records[0].Seq, records[1].Seq)
	}
}

func TestRecorderJournalsBusEvents(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: config.RetentionPersistent}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer s.Close()

	hub := bus.New(config.BusConfig{SubscriberBuffer: 16, OverflowPolicy: config.OverflowDropOldest}, newLogger())
	defer hub.Close()

	rec := NewRecorder(context.Background(), s, hub, newLogger())
	if err := rec.Start(); err != nil {
		t.Fatalf("start recorder: %v", err)
	}
	defer rec.Close()

	for clip := 1; clip <= 3; clip++ {
		hub.Publish(playingStatus("show", clip))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := s.Count(context.Background())
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 journaled records, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	records, err := s.ListComposition(context.Background(), "show", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if records[0].Seq != 3 || records[0].Status.ClipIndex != 3 {
		t.Fatalf("expected newest record seq 3, got %+v", records[0])
	}
	if rec.Appended() != 3 {
		t.Fatalf("expected 3 appended, got %d", rec.Appended())
	}
}

func TestRecorderIdleOnEphemeralStore(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s, err := Open(context.Background(), config.JournalConfig{RetentionMode: config.RetentionEphemeral}, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer s.Close()

	hub := bus.New(config.BusConfig{SubscriberBuffer: 16, OverflowPolicy: config.OverflowDropOldest}, newLogger())
	defer hub.Close()

	rec := NewRecorder(context.Background(), s, hub, newLogger())
	if err := rec.Start(); err != nil {
		t.Fatalf("start recorder: %v", err)
	}
	if !rec.Healthy() {
		t.Fatalf("expected idle recorder to report healthy")
	}
	hub.Publish(playingStatus("show", 1))
	if err := rec.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}
}
