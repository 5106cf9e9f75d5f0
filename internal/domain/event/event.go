// Package event defines the typed progress events emitted while a plan runs.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of plan event.
type Type string

const (
	TypePlanCreated    Type = "plan_created"
	TypeStepStarted    Type = "step_started"
	TypeStepCompleted  Type = "step_completed"
	TypeStepFailed     Type = "step_failed"
	TypeProgressUpdate Type = "progress_update"
	TypePlanCompleted  Type = "plan_completed"
	TypePlanFailed     Type = "plan_failed"
)

// IsTerminal reports whether no further events follow this type for a plan.
func (t Type) IsTerminal() bool {
	return t == TypePlanCompleted || t == TypePlanFailed
}

// Event is a single immutable occurrence during plan execution.
type Event struct {
	Type      Type            `json:"type"`
	PlanID    string          `json:"plan_id"`
	StepID    string          `json:"step_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an event, marshaling data into the payload. A nil data value
// leaves the payload empty.
func New(typ Type, planID, stepID string, data any) Event {
	ev := Event{Type: typ, PlanID: planID, StepID: stepID, Timestamp: time.Now().UTC()}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// Progress is the payload of progress_update events.
type Progress struct {
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// NewProgress computes the completion percentage; an empty plan counts as done.
func NewProgress(completed, total int) Progress {
	pct := 100.0
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}
	return Progress{Completed: completed, Total: total, Percentage: pct}
}
