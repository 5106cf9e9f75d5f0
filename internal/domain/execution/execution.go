// Package execution defines the runtime state of one plan execution attempt.
package execution

import (
	"encoding/json"
	"errors"
	"time"
)

// Status represents the lifecycle state of an execution.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the execution can no longer be paused or resumed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var (
	// ErrPaused is returned by an execution loop stopped by a pause request.
	ErrPaused = errors.New("execution paused")
	// ErrCancelled is returned by an execution loop stopped by a cancel request.
	ErrCancelled = errors.New("cancelled by user")
	// ErrUnresolvable is returned when work remains but no step is ready.
	ErrUnresolvable = errors.New("circular dependency or unresolvable dependency")
)

// Options controls how a plan is driven.
type Options struct {
	Parallel        bool `json:"parallel"`
	ContinueOnError bool `json:"continue_on_error"`
	// MaxRetries is the number of extra attempts a failing step gets.
	MaxRetries int `json:"max_retries"`
}

// Execution is the per-plan runtime state. The executed set and results
// survive a pause so that resume continues where the loop stopped.
type Execution struct {
	PlanID      string                     `json:"plan_id"`
	Status      Status                     `json:"status"`
	Options     Options                    `json:"options"`
	Executed    map[string]bool            `json:"executed"`
	Results     map[string]json.RawMessage `json:"results"`
	Errors      map[string]string          `json:"errors,omitempty"`
	Error       string                     `json:"error,omitempty"`
	StartedAt   time.Time                  `json:"started_at"`
	PausedAt    *time.Time                 `json:"paused_at,omitempty"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
}

// New creates an idle execution for a plan.
func New(planID string, opts Options) *Execution {
	return &Execution{
		PlanID:   planID,
		Status:   StatusIdle,
		Options:  opts,
		Executed: make(map[string]bool),
		Results:  make(map[string]json.RawMessage),
		Errors:   make(map[string]string),
	}
}

// MarkExecuted folds a step outcome into the persisted state. Failed steps
// still count as executed for dependency resolution.
func (e *Execution) MarkExecuted(stepID string, result json.RawMessage, err error) {
	e.Executed[stepID] = true
	if err != nil {
		e.Errors[stepID] = err.Error()
		return
	}
	e.Results[stepID] = result
}

// Report is a point-in-time summary of an execution.
type Report struct {
	PlanID         string                     `json:"plan_id"`
	Title          string                     `json:"title"`
	Status         Status                     `json:"status"`
	TotalSteps     int                        `json:"total_steps"`
	CompletedSteps int                        `json:"completed_steps"`
	FailedSteps    int                        `json:"failed_steps"`
	Results        map[string]json.RawMessage `json:"results"`
	Errors         map[string]string          `json:"errors,omitempty"`
	Error          string                     `json:"error,omitempty"`
	StartedAt      time.Time                  `json:"started_at"`
	PausedAt       *time.Time                 `json:"paused_at,omitempty"`
	CompletedAt    *time.Time                 `json:"completed_at,omitempty"`
	DurationMS     int64                      `json:"duration_ms"`
}

// Report summarizes the execution against a plan of totalSteps steps. Maps
// are copied so the report can leave the owning goroutine.
func (e *Execution) Report(title string, totalSteps int, now time.Time) *Report {
	r := &Report{
		PlanID:         e.PlanID,
		Title:          title,
		Status:         e.Status,
		TotalSteps:     totalSteps,
		CompletedSteps: len(e.Results),
		FailedSteps:    len(e.Errors),
		Results:        make(map[string]json.RawMessage, len(e.Results)),
		Errors:         make(map[string]string, len(e.Errors)),
		Error:          e.Error,
		StartedAt:      e.StartedAt,
	}
	for k, v := range e.Results {
		r.Results[k] = v
	}
	for k, v := range e.Errors {
		r.Errors[k] = v
	}
	if e.PausedAt != nil {
		t := *e.PausedAt
		r.PausedAt = &t
	}
	end := now
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		r.CompletedAt = &t
		end = t
	}
	if !e.StartedAt.IsZero() {
		r.DurationMS = end.Sub(e.StartedAt).Milliseconds()
	}
	return r
}
