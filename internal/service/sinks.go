package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/labdesk/taskplanner/internal/domain/event"
	"github.com/labdesk/taskplanner/internal/port/broadcast"
	"github.com/labdesk/taskplanner/internal/port/eventstore"
)

const defaultSinkBuffer = 256

type sinkWorker struct {
	name string
	sink broadcast.Broadcaster
	ch   chan event.Event
}

// SinkDispatcher fans events out to slow consumers (WebSocket clients, the
// message queue, the journal) on one goroutine per sink. Events are dropped,
// and counted, when a sink falls behind.
type SinkDispatcher struct {
	buffer  int
	onDrop  func(sink string)
	dropped atomic.Int64

	mu      sync.RWMutex // guards closed against sends on closed channels
	closed  bool
	workers []*sinkWorker
	wg      sync.WaitGroup
}

// NewSinkDispatcher creates a dispatcher with a per-sink buffer. onDrop may
// be nil.
func NewSinkDispatcher(buffer int, onDrop func(sink string)) *SinkDispatcher {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	return &SinkDispatcher{buffer: buffer, onDrop: onDrop}
}

// Add registers a sink and starts its worker.
func (d *SinkDispatcher) Add(name string, sink broadcast.Broadcaster) {
	w := &sinkWorker{name: name, sink: sink, ch: make(chan event.Event, d.buffer)}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.workers = append(d.workers, w)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for ev := range w.ch {
			w.sink.BroadcastEvent(context.Background(), ev)
		}
	}()
}

// Dispatch queues ev for every sink without blocking.
func (d *SinkDispatcher) Dispatch(ev event.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, w := range d.workers {
		select {
		case w.ch <- ev:
		default:
			d.dropped.Add(1)
			if d.onDrop != nil {
				d.onDrop(w.name)
			}
		}
	}
}

// Dropped returns the number of events dropped across all sinks.
func (d *SinkDispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for the workers to drain.
func (d *SinkDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// journalSink appends events to an event store.
type journalSink struct {
	store eventstore.Store
}

// JournalSink adapts an event store to the sink interface.
func JournalSink(store eventstore.Store) broadcast.Broadcaster {
	return journalSink{store: store}
}

func (j journalSink) BroadcastEvent(ctx context.Context, ev event.Event) {
	if err := j.store.Append(ctx, &ev); err != nil {
		slog.Error("journal append failed", "plan_id", ev.PlanID, "type", ev.Type, "error", err)
	}
}
