package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart       EventType = "start"
	EventStop        EventType = "stop"
	EventExit        EventType = "exit" // exited without a stop request
	EventStartFailed EventType = "start_failed"
)

// Record is the process state attached to an event.
type Record struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Port      uint16    `json:"port,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitErr   string    `json:"exit_err,omitempty"`
	SpecJSON  string    `json:"spec_json,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Broadcast sends e to every sink and joins their errors. A failing sink
// does not keep the event from the others.
func Broadcast(ctx context.Context, sinks []Sink, e Event) error {
	var errs []error
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// nullable maps empty strings and zero times to SQL NULL.
func nullable[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

// Args returns the column values shared by the SQL sinks, in the order
// occurred_at, event, name, pid, port, started_at, stopped_at, error, spec.
func (e Event) Args() []any {
	r := e.Record
	var started, stopped any
	if !r.StartedAt.IsZero() {
		started = r.StartedAt.UTC()
	}
	if !r.StoppedAt.IsZero() {
		stopped = r.StoppedAt.UTC()
	}
	return []any{
		e.OccurredAt.UTC(), string(e.Type), r.Name, r.PID, int(r.Port),
		started, stopped, nullable(r.ExitErr), nullable(r.SpecJSON),
	}
}

// Reader is implemented by sinks that can return what they stored.
type Reader interface {
	// Recent returns up to limit events, newest first. An empty name means
	// every process.
	Recent(ctx context.Context, name string, limit int) ([]Event, error)
}
