package http

import (
	"net/http"

	"github.com/labdesk/taskplanner/internal/domain/plan"
	"github.com/labdesk/taskplanner/internal/port/eventstore"
	"github.com/labdesk/taskplanner/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Planner      *service.PlannerService
	Orchestrator *service.OrchestratorService
	Journal      eventstore.Store // nil when the event journal is disabled
}

// createPlanRequest is the body of POST /plans. Unset options fall back to
// the configured defaults.
type createPlanRequest struct {
	plan.BuildRequest
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	MaxSteps     *int   `json:"max_steps"`
	AutoValidate *bool  `json:"auto_validate"`
}

// CreatePlan handles POST /api/v1/plans.
func (h *Handlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createPlanRequest](w, r)
	if !ok {
		return
	}
	if req.MaxSteps != nil && *req.MaxSteps < 0 {
		writeError(w, http.StatusBadRequest, "max_steps must not be negative")
		return
	}

	opts := h.Planner.DefaultBuildOptions()
	opts.Provider = req.Provider
	opts.Model = req.Model
	if req.MaxSteps != nil {
		opts.MaxSteps = *req.MaxSteps
	}
	if req.AutoValidate != nil {
		opts.AutoValidate = *req.AutoValidate
	}

	p := h.Planner.CreatePlan(r.Context(), req.BuildRequest, opts)
	writeJSON(w, http.StatusCreated, p)
}

type validateStepsRequest struct {
	Steps []plan.Step `json:"steps"`
	Want  string      `json:"want"`
	Use   []string    `json:"use"`
	Make  []string    `json:"make"`
}

// ValidateSteps handles POST /api/v1/plans/validate.
func (h *Handlers) ValidateSteps(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[validateStepsRequest](w, r)
	if !ok {
		return
	}
	v := h.Planner.ValidateSteps(r.Context(), req.Steps, req.Want, req.Use, req.Make)
	writeJSON(w, http.StatusOK, v)
}

// ValidatePlan handles POST /api/v1/plans/{id}/validate.
func (h *Handlers) ValidatePlan(w http.ResponseWriter, r *http.Request) {
	v, err := h.Planner.ValidatePlan(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// RefinePlan handles POST /api/v1/plans/{id}/refine.
func (h *Handlers) RefinePlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.Planner.RefinePlan(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeletePlan handles DELETE /api/v1/plans/{id}.
func (h *Handlers) DeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.Planner.DeletePlan(urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
