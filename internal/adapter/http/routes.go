package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// requestTimeout bounds every non-streaming API request.
const requestTimeout = 30 * time.Second

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Streaming responses outlive any request timeout.
		r.Get("/plans/{id}/events", h.StreamEvents)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(requestTimeout))

			r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"version": "0.1.0"})
			})

			// Plans
			r.Post("/plans", h.CreatePlan)
			r.Get("/plans", handleList(h.Planner.ListPlans))
			r.Post("/plans/validate", h.ValidateSteps)
			r.Get("/plans/{id}", handleGet(h.Planner.GetPlan, "plan not found"))
			r.Delete("/plans/{id}", h.DeletePlan)
			r.Post("/plans/{id}/validate", h.ValidatePlan)
			r.Post("/plans/{id}/refine", h.RefinePlan)

			// Execution control
			r.Post("/plans/{id}/execute", h.ExecutePlan)
			r.Post("/plans/{id}/pause", handleControl(h.Orchestrator.PauseExecution, "paused", "execution is not running"))
			r.Post("/plans/{id}/resume", h.ResumeExecution)
			r.Post("/plans/{id}/cancel", handleControl(h.Orchestrator.CancelExecution, "cancelled", "execution is not running or paused"))
			r.Get("/plans/{id}/execution", handleGet(h.Orchestrator.GetExecution, "execution not found"))
			r.Get("/plans/{id}/report", h.GetReport)
			r.Get("/plans/{id}/journal", h.ListJournal)

			// Executions
			r.Get("/executions", handleList(h.Orchestrator.ListExecutions))
			r.Delete("/executions", h.ClearExecutions)
		})
	})
}
