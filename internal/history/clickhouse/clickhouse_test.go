package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/realm/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container and returns the
// native-protocol address.
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return clickHouseContainer, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	clickHouseContainer, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := clickHouseContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(Options{Addr: addr, Table: "realm_history"})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	rec := history.Record{Name: "backend", PID: 12345, Port: 4001, StartedAt: time.Now().Add(-time.Minute).UTC()}
	if err := sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	rec.StoppedAt = time.Now().UTC()
	rec.ExitErr = "exit status 1"
	if err := sink.Send(ctx, history.Event{Type: history.EventExit, OccurredAt: rec.StoppedAt, Record: rec}); err != nil {
		t.Fatalf("Failed to send exit event: %v", err)
	}

	events, err := sink.Recent(ctx, "backend", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Type != history.EventExit || events[0].Record.ExitErr != "exit status 1" {
		t.Errorf("unexpected newest event: %+v", events[0])
	}
	if events[1].Record.Port != 4001 {
		t.Errorf("port not stored: %+v", events[1])
	}
}

func TestClickHouseSink_InvalidTable(t *testing.T) {
	_, err := New(Options{Addr: "127.0.0.1:9000", Table: "bad; DROP TABLE x"})
	if err == nil {
		t.Fatal("expected table name validation error")
	}
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	_, err := New(Options{Addr: "invalid-host.invalid:9000"})
	if err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}

var _ history.Reader = (*Sink)(nil)
