package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/labdesk/taskplanner/internal/port/messagequeue"
)

// ControlSubscriber applies pause, resume, and cancel commands received on
// the message queue to the orchestrator.
type ControlSubscriber struct {
	orch    *OrchestratorService
	queue   messagequeue.Queue
	cancels []func()
}

// NewControlSubscriber creates a ControlSubscriber.
func NewControlSubscriber(orch *OrchestratorService, queue messagequeue.Queue) *ControlSubscriber {
	return &ControlSubscriber{orch: orch, queue: queue}
}

// Start subscribes to the control subjects. Resumed executions run on ctx
// without its cancellation.
func (c *ControlSubscriber) Start(ctx context.Context) error {
	runCtx := context.WithoutCancel(ctx)
	for _, subject := range []string{
		messagequeue.SubjectPlanPause,
		messagequeue.SubjectPlanResume,
		messagequeue.SubjectPlanCancel,
	} {
		cancel, err := c.queue.Subscribe(ctx, subject, func(_ context.Context, subj string, data []byte) error {
			return c.handle(runCtx, subj, data)
		})
		if err != nil {
			c.Stop()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		c.cancels = append(c.cancels, cancel)
	}
	return nil
}

// Stop cancels all subscriptions.
func (c *ControlSubscriber) Stop() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
}

func (c *ControlSubscriber) handle(ctx context.Context, subject string, data []byte) error {
	var p messagequeue.ControlPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode control payload: %w", err)
	}

	switch subject {
	case messagequeue.SubjectPlanPause:
		if !c.orch.PauseExecution(p.PlanID) {
			slog.Info("pause command ignored", "plan_id", p.PlanID)
		}
	case messagequeue.SubjectPlanCancel:
		if !c.orch.CancelExecution(p.PlanID) {
			slog.Info("cancel command ignored", "plan_id", p.PlanID)
		}
	case messagequeue.SubjectPlanResume:
		if err := c.orch.StartResume(ctx, p.PlanID); err != nil {
			slog.Info("resume command ignored", "plan_id", p.PlanID, "error", err)
		}
	default:
		slog.Warn("unknown control subject", "subject", subject)
	}
	return nil
}
