package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sendTimeout bounds one delivery to all sinks.
const sendTimeout = 5 * time.Second

// Dispatcher delivers events to sinks from a single goroutine, preserving
// publish order without making publishers wait on slow sinks.
type Dispatcher struct {
	sinks []Sink
	log   *slog.Logger
	ch    chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher starts a dispatcher with room for buffer pending events.
func NewDispatcher(log *slog.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	d := &Dispatcher{
		sinks: append([]Sink(nil), sinks...),
		log:   log,
		ch:    make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.ch {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := Broadcast(ctx, d.sinks, e); err != nil {
			d.log.Warn("history sink failed", "event", e.Type, "process", e.Record.Name, "error", err)
		}
		cancel()
	}
}

// Publish queues e. When the queue is full the event is dropped and logged.
// Publishing after Close is a no-op.
func (d *Dispatcher) Publish(e Event) {
	if d == nil {
		return
	}
	defer func() {
		// send on closed channel after Close
		_ = recover()
	}()
	select {
	case d.ch <- e:
	default:
		d.log.Warn("history queue full; dropping event", "event", e.Type, "process", e.Record.Name)
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() { close(d.ch) })
	<-d.done
}
