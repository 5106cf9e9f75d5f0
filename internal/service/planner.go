package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	tpotel "github.com/labdesk/taskplanner/internal/adapter/otel"
	"github.com/labdesk/taskplanner/internal/config"
	"github.com/labdesk/taskplanner/internal/domain"
	"github.com/labdesk/taskplanner/internal/domain/plan"
	"github.com/labdesk/taskplanner/internal/port/stepcall"
)

// StepContext is the per-step view of prior work sent with every binding.
type StepContext struct {
	StepID      string `json:"step_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// Dependencies maps each declared dependency to its result; failed
	// dependencies map to null.
	Dependencies    map[string]json.RawMessage `json:"dependencies"`
	PreviousResults []json.RawMessage          `json:"previous_results"`
}

// StepRequest is the JSON body posted for one binding.
type StepRequest struct {
	PlanID   string         `json:"plan_id"`
	Subject  string         `json:"subject,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Model    string         `json:"model,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Context  StepContext    `json:"context"`
}

// PlannerService builds, validates, and refines plans, keeps the registry of
// known plans, and performs the bindings of individual steps.
type PlannerService struct {
	builder *plan.Builder
	invoker stepcall.Invoker
	cfg     config.Orchestrator
	metrics *tpotel.Metrics

	mu    sync.RWMutex
	plans map[string]*plan.Plan
}

// NewPlannerService creates a PlannerService calling bindings through invoker.
func NewPlannerService(invoker stepcall.Invoker, cfg config.Orchestrator) *PlannerService {
	return &PlannerService{
		builder: plan.NewBuilder(),
		invoker: invoker,
		cfg:     cfg,
		plans:   make(map[string]*plan.Plan),
	}
}

// SetMetrics enables metric recording.
func (s *PlannerService) SetMetrics(m *tpotel.Metrics) {
	s.metrics = m
}

// DefaultBuildOptions returns the configured build options.
func (s *PlannerService) DefaultBuildOptions() plan.BuildOptions {
	return plan.BuildOptions{MaxSteps: s.cfg.MaxSteps, AutoValidate: s.cfg.AutoValidate}
}

// CreatePlan builds a plan for req and registers it.
func (s *PlannerService) CreatePlan(ctx context.Context, req plan.BuildRequest, opts plan.BuildOptions) *plan.Plan {
	p := s.builder.Build(req, opts)

	s.mu.Lock()
	s.plans[p.ID] = p.Clone()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PlanCreated(ctx, len(p.Steps))
		s.metrics.Validated(ctx, p.Validation.IsValid, len(p.Validation.Issues))
	}
	slog.Info("plan created", "plan_id", p.ID, "want", req.Want, "steps", len(p.Steps), "valid", p.Validation.IsValid)
	return p
}

// GetPlan returns a copy of a registered plan.
func (s *PlannerService) GetPlan(id string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", id, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// ListPlans returns copies of all registered plans, newest first.
func (s *PlannerService) ListPlans() []*plan.Plan {
	s.mu.RLock()
	out := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// SavePlan stores a copy of p, replacing any plan with the same ID.
func (s *PlannerService) SavePlan(p *plan.Plan) {
	s.mu.Lock()
	s.plans[p.ID] = p.Clone()
	s.mu.Unlock()
}

// DeletePlan removes a plan from the registry.
func (s *PlannerService) DeletePlan(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return fmt.Errorf("plan %s: %w", id, domain.ErrNotFound)
	}
	delete(s.plans, id)
	return nil
}

// ValidateSteps validates an arbitrary step list against an intent.
func (s *PlannerService) ValidateSteps(ctx context.Context, steps []plan.Step, want string, use, outputKeys []string) plan.Validation {
	v := plan.Validate(steps, want, use, outputKeys)
	if s.metrics != nil {
		s.metrics.Validated(ctx, v.IsValid, len(v.Issues))
	}
	return v
}

// ValidatePlan re-validates a registered plan and stores the result on it.
func (s *PlannerService) ValidatePlan(ctx context.Context, id string) (*plan.Validation, error) {
	p, err := s.GetPlan(id)
	if err != nil {
		return nil, err
	}
	v := s.ValidateSteps(ctx, p.Steps, p.Want, p.Use, p.Make)
	p.Validation = &v
	s.SavePlan(p)
	return &v, nil
}

// RefinePlan runs one refine pass over an invalid registered plan and
// re-validates it. Valid plans are returned unchanged.
func (s *PlannerService) RefinePlan(ctx context.Context, id string) (*plan.Plan, error) {
	p, err := s.GetPlan(id)
	if err != nil {
		return nil, err
	}
	v := plan.Validate(p.Steps, p.Want, p.Use, p.Make)
	if v.IsValid {
		p.Validation = &v
		s.SavePlan(p)
		return p, nil
	}

	before := len(p.Steps)
	p.Steps = plan.Refine(p.Steps, v)
	after := s.ValidateSteps(ctx, p.Steps, p.Want, p.Use, p.Make)
	p.Validation = &after
	p.EstimatedMinutes = plan.EstimateMinutes(p.Steps)
	s.SavePlan(p)

	slog.Info("plan refined", "plan_id", id, "steps_before", before, "steps_after", len(p.Steps), "valid", after.IsValid)
	return p, nil
}

// ExecuteStep performs the bindings of step in order. A single binding
// yields its raw response, several yield a JSON array of responses, and a
// step without bindings yields null.
func (s *PlannerService) ExecuteStep(ctx context.Context, p *plan.Plan, step *plan.Step, sc StepContext) (json.RawMessage, error) {
	if !step.HasBindings() {
		return json.RawMessage("null"), nil
	}

	responses := make([]json.RawMessage, 0, len(step.Bindings))
	for _, b := range step.Bindings {
		body := StepRequest{
			PlanID:   p.ID,
			Subject:  p.Subject,
			Prompt:   p.Prompt,
			Provider: p.Provider,
			Model:    p.Model,
			Params:   b.Params,
			Context:  sc,
		}

		callCtx, span := tpotel.StartBindingSpan(ctx, b.Endpoint)
		resp, err := s.invoker.Invoke(callCtx, b.Endpoint, body)
		tpotel.EndSpan(span, err)
		if s.metrics != nil {
			s.metrics.BindingCalled(ctx, b.Endpoint, err == nil)
		}
		if err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}

	if len(responses) == 1 {
		return responses[0], nil
	}
	out, err := json.Marshal(responses)
	if err != nil {
		return nil, fmt.Errorf("combine binding responses: %w", err)
	}
	return out, nil
}
