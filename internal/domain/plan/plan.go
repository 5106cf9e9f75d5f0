// Package plan defines the research task plan: its steps, the intent catalog
// the builder draws on, and the pure build/validate/refine operations.
package plan

import (
	"encoding/json"
	"time"
)

// StepStatus represents the lifecycle state of an individual step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// IsTerminal returns true if the step is in a final state.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// Priority is informational only; it never affects scheduling order.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// StepKind records which builder stage emitted a step.
type StepKind string

const (
	KindResearch     StepKind = "research"
	KindAggregate    StepKind = "aggregate"
	KindAnalysis     StepKind = "analysis"
	KindAction       StepKind = "action"
	KindOutput       StepKind = "output"
	KindQualityCheck StepKind = "quality_check"
	KindPackage      StepKind = "package"
)

// Binding is a reference to one external call a step performs when executed.
type Binding struct {
	Endpoint string         `json:"endpoint"`
	Params   map[string]any `json:"params,omitempty"`
}

// Step is one schedulable unit of work with declared dependencies.
type Step struct {
	ID                string          `json:"id"`
	Kind              StepKind        `json:"kind,omitempty"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Status            StepStatus      `json:"status"`
	Priority          Priority        `json:"priority"`
	Dependencies      []string        `json:"dependencies"`
	Bindings          []Binding       `json:"bindings,omitempty"`
	EstimatedDuration string          `json:"estimated_duration,omitempty"`
	Result            json.RawMessage `json:"result,omitempty"`
	Error             string          `json:"error,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// HasBindings reports whether executing the step performs any external call.
func (s *Step) HasBindings() bool {
	return len(s.Bindings) > 0
}

// Plan is the ordered set of steps produced for one user intent.
// Step order reflects build order, not execution order.
type Plan struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	Want             string      `json:"want"`
	Use              []string    `json:"use"`
	Make             []string    `json:"make"`
	Subject          string      `json:"subject"`
	Prompt           string      `json:"prompt"`
	Provider         string      `json:"provider,omitempty"`
	Model            string      `json:"model,omitempty"`
	Steps            []Step      `json:"steps"`
	Validation       *Validation `json:"validation,omitempty"`
	EstimatedMinutes float64     `json:"estimated_minutes"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Step returns a pointer to the step with the given ID, or nil.
func (p *Plan) Step(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the plan safe to hand to another goroutine.
func (p *Plan) Clone() *Plan {
	c := *p
	c.Use = append([]string(nil), p.Use...)
	c.Make = append([]string(nil), p.Make...)
	c.Steps = CloneSteps(p.Steps)
	if p.Validation != nil {
		v := *p.Validation
		v.Issues = append([]Issue(nil), p.Validation.Issues...)
		v.Suggestions = append([]string(nil), p.Validation.Suggestions...)
		c.Validation = &v
	}
	return &c
}

// CloneSteps deep-copies a step list so callers can mutate the result freely.
func CloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i := range steps {
		s := steps[i]
		s.Dependencies = append([]string(nil), steps[i].Dependencies...)
		if steps[i].Bindings != nil {
			s.Bindings = make([]Binding, len(steps[i].Bindings))
			for j, b := range steps[i].Bindings {
				nb := Binding{Endpoint: b.Endpoint}
				if b.Params != nil {
					nb.Params = make(map[string]any, len(b.Params))
					for k, v := range b.Params {
						nb.Params[k] = v
					}
				}
				s.Bindings[j] = nb
			}
		}
		if steps[i].Result != nil {
			s.Result = append(json.RawMessage(nil), steps[i].Result...)
		}
		if steps[i].StartedAt != nil {
			t := *steps[i].StartedAt
			s.StartedAt = &t
		}
		if steps[i].CompletedAt != nil {
			t := *steps[i].CompletedAt
			s.CompletedAt = &t
		}
		out[i] = s
	}
	return out
}
