package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/labdesk/taskplanner/internal/domain/event"
	"github.com/labdesk/taskplanner/internal/port/messagequeue"
)

// EventPublisher forwards plan events to plans.events.<planID>.
type EventPublisher struct {
	queue messagequeue.Queue
}

// NewEventPublisher wraps a queue as an event sink.
func NewEventPublisher(q messagequeue.Queue) *EventPublisher {
	return &EventPublisher{queue: q}
}

// BroadcastEvent publishes ev; failures are logged, never returned.
func (p *EventPublisher) BroadcastEvent(ctx context.Context, ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal plan event", "plan_id", ev.PlanID, "error", err)
		return
	}
	if err := p.queue.Publish(ctx, messagequeue.PlanEventSubject(ev.PlanID), data); err != nil {
		slog.Warn("publish plan event", "plan_id", ev.PlanID, "type", ev.Type, "error", err)
	}
}
