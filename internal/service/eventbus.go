package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/labdesk/taskplanner/internal/domain/event"
)

const defaultStreamBuffer = 64

// Stream is a pull-based, per-plan subscription to the event bus. It closes
// itself once it hands out a plan_completed or plan_failed event.
type Stream struct {
	planID string
	ch     chan event.Event
	ctx    context.Context
	done   chan struct{}
	once   sync.Once
	unsub  func(*Stream)
}

// PlanID returns the plan the stream is scoped to.
func (s *Stream) PlanID() string { return s.planID }

// Next blocks until the next event arrives. It returns false once the
// stream is closed, the subscriber context is done, or ctx is done.
func (s *Stream) Next(ctx context.Context) (event.Event, bool) {
	select {
	case ev := <-s.ch:
		if ev.Type.IsTerminal() {
			s.Close()
		}
		return ev, true
	case <-s.done:
	case <-s.ctx.Done():
		s.Close()
	case <-ctx.Done():
	}
	// Deliver what was buffered before the close.
	select {
	case ev := <-s.ch:
		if ev.Type.IsTerminal() {
			s.Close()
		}
		return ev, true
	default:
		return event.Event{}, false
	}
}

// Done is closed when the stream stops accepting events.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close unsubscribes the stream. It is safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.unsub != nil {
			s.unsub(s)
		}
	})
}

// deliver blocks while the buffer is full, giving up when the stream is
// closed or either context is done. A publisher that gives up cuts the
// lagging stream off, so its reader sees the buffered events and then the
// end of the stream instead of a gap.
func (s *Stream) deliver(ctx context.Context, ev event.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- ev:
		return true
	default:
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
	case <-s.ctx.Done():
		s.Close()
	case <-ctx.Done():
		s.Close()
	}
	return false
}

// EventBus demultiplexes plan events to per-plan streams and forwards every
// event to the sink dispatcher.
type EventBus struct {
	mu      sync.Mutex
	streams map[string]map[*Stream]struct{}
	buffer  int
	sinks   *SinkDispatcher
}

// NewEventBus creates a bus whose streams buffer up to buffer events.
// sinks may be nil.
func NewEventBus(buffer int, sinks *SinkDispatcher) *EventBus {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	return &EventBus{
		streams: make(map[string]map[*Stream]struct{}),
		buffer:  buffer,
		sinks:   sinks,
	}
}

// Subscribe opens a stream of the events of planID. The stream closes when
// ctx is done.
func (b *EventBus) Subscribe(ctx context.Context, planID string) *Stream {
	s := &Stream{
		planID: planID,
		ch:     make(chan event.Event, b.buffer),
		ctx:    ctx,
		done:   make(chan struct{}),
		unsub:  b.unsubscribe,
	}
	b.mu.Lock()
	set, ok := b.streams[planID]
	if !ok {
		set = make(map[*Stream]struct{})
		b.streams[planID] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *EventBus) unsubscribe(s *Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.streams[s.planID]
	delete(set, s)
	if len(set) == 0 {
		delete(b.streams, s.planID)
	}
}

// Publish hands ev to every stream of its plan, blocking on full buffers
// until ctx is done, then queues it for the sinks without blocking.
func (b *EventBus) Publish(ctx context.Context, ev event.Event) {
	b.mu.Lock()
	targets := make([]*Stream, 0, len(b.streams[ev.PlanID]))
	for s := range b.streams[ev.PlanID] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		if !s.deliver(ctx, ev) {
			slog.Debug("event not delivered to stream", "plan_id", ev.PlanID, "type", ev.Type)
		}
	}

	if b.sinks != nil {
		b.sinks.Dispatch(ev)
	}
}

// Subscribers returns the number of open streams for planID.
func (b *EventBus) Subscribers(planID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[planID])
}
