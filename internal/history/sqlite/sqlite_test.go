package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/realm/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)
	rec := history.Record{Name: "backend", PID: 12345, Port: 4001, StartedAt: started, SpecJSON: `{"name":"backend"}`}

	if err := sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: started, Record: rec}); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}

	rec.StoppedAt = started.Add(30 * time.Second)
	rec.ExitErr = "signal: killed"
	if err := sink.Send(ctx, history.Event{Type: history.EventStop, OccurredAt: rec.StoppedAt, Record: rec}); err != nil {
		t.Fatalf("Failed to send stop event: %v", err)
	}
	other := history.Record{Name: "frontend", PID: 1}
	if err := sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: other}); err != nil {
		t.Fatalf("Failed to send other event: %v", err)
	}

	events, err := sink.Recent(ctx, "backend", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 backend events, got %d", len(events))
	}
	stop := events[0]
	if stop.Type != history.EventStop || stop.Record.ExitErr != "signal: killed" || stop.Record.Port != 4001 {
		t.Fatalf("unexpected newest event: %+v", stop)
	}
	if !stop.Record.StartedAt.Equal(started) {
		t.Fatalf("started_at round trip: got %v want %v", stop.Record.StartedAt, started)
	}
	if events[1].Type != history.EventStart || !events[1].Record.StoppedAt.IsZero() {
		t.Fatalf("unexpected oldest event: %+v", events[1])
	}

	all, err := sink.Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("Recent all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events overall, got %d", len(all))
	}
	limited, _ := sink.Recent(ctx, "", 1)
	if len(limited) != 1 {
		t.Fatalf("limit not applied: %d", len(limited))
	}
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.Send(context.Background(), history.Event{Type: history.EventExit, OccurredAt: time.Now(), Record: history.Record{Name: "x"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	events, err := sink.Recent(context.Background(), "x", 5)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected the event back from :memory:, got %v %v", events, err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("   "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

var _ history.Reader = (*Sink)(nil)
