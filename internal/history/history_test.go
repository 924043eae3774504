package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func TestBroadcastDeliversToAllSinks(t *testing.T) {
	a := &memSink{}
	b := &memSink{err: errors.New("down")}
	c := &memSink{}
	e := Event{Type: EventStart, OccurredAt: time.Now(), Record: Record{Name: "api", PID: 42}}

	err := Broadcast(context.Background(), []Sink{a, nil, b, c}, e)
	if err == nil || err.Error() != "down" {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	for i, s := range []*memSink{a, b, c} {
		if len(s.events) != 1 || s.events[0].Record.Name != "api" {
			t.Fatalf("sink %d: unexpected events %+v", i, s.events)
		}
	}
	if err := Broadcast(context.Background(), nil, e); err != nil {
		t.Fatalf("no sinks must not error: %v", err)
	}
}

func TestEventArgs(t *testing.T) {
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	e := Event{
		Type:       EventExit,
		OccurredAt: started.Add(time.Minute),
		Record:     Record{Name: "web", PID: 7, Port: 4000, StartedAt: started, ExitErr: "exit status 1"},
	}
	args := e.Args()
	if len(args) != 9 {
		t.Fatalf("expected 9 args, got %d", len(args))
	}
	if args[1] != "exit" || args[2] != "web" || args[3] != 7 || args[4] != 4000 {
		t.Fatalf("unexpected leading args: %v", args[:5])
	}
	if ts, ok := args[5].(time.Time); !ok || ts.Location() != time.UTC {
		t.Fatalf("started_at must be UTC time, got %#v", args[5])
	}
	if args[6] != nil {
		t.Fatalf("zero stopped_at must be NULL, got %#v", args[6])
	}
	if args[7] != "exit status 1" || args[8] != nil {
		t.Fatalf("unexpected error/spec args: %#v %#v", args[7], args[8])
	}
}

func TestDispatcherPreservesOrderAndFlushesOnClose(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(nil, 16, sink)
	for i := 0; i < 10; i++ {
		d.Publish(Event{Type: EventStart, Record: Record{Name: "p", PID: i}})
	}
	d.Close()
	d.Close() // idempotent
	d.Publish(Event{Type: EventStop}) // after close: ignored

	if len(sink.events) != 10 {
		t.Fatalf("expected 10 delivered events, got %d", len(sink.events))
	}
	for i, e := range sink.events {
		if e.Record.PID != i {
			t.Fatalf("out of order at %d: %+v", i, e)
		}
	}
}

func TestDispatcherNil(t *testing.T) {
	var d *Dispatcher
	d.Publish(Event{})
	d.Close()
}
