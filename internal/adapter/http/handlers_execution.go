package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labdesk/taskplanner/internal/domain/event"
	"github.com/labdesk/taskplanner/internal/domain/execution"
	"github.com/labdesk/taskplanner/internal/logger"
	"github.com/labdesk/taskplanner/internal/port/eventstore"
)

// ExecutePlan handles POST /api/v1/plans/{id}/execute. The run continues in
// the background; progress is observed through the event stream.
func (h *Handlers) ExecutePlan(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	opts, ok := readOptionalJSON[execution.Options](w, r)
	if !ok {
		return
	}
	p, err := h.Planner.GetPlan(id)
	if err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}

	ctx := logger.WithPlanID(r.Context(), id)
	if err := h.Orchestrator.StartExecution(ctx, p, opts); err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"plan_id": id, "status": string(execution.StatusRunning)})
}

// ResumeExecution handles POST /api/v1/plans/{id}/resume.
func (h *Handlers) ResumeExecution(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orchestrator.StartResume(logger.WithPlanID(r.Context(), id), id); err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"plan_id": id, "status": string(execution.StatusRunning)})
}

// GetReport handles GET /api/v1/plans/{id}/report. Reports of cleared
// executions are served from the history cache while they last.
func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Orchestrator.GetReport(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ClearExecutions handles DELETE /api/v1/executions.
func (h *Handlers) ClearExecutions(w http.ResponseWriter, r *http.Request) {
	n := h.Orchestrator.ClearFinished(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// StreamEvents handles GET /api/v1/plans/{id}/events as a server-sent event
// stream. Only events emitted after the subscription are delivered; the
// response ends after the terminal event.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	stream := h.Orchestrator.StreamExecution(ctx, urlParam(r, "id"))
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("marshal plan event", "plan_id", ev.PlanID, "type", ev.Type, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// ListJournal handles GET /api/v1/plans/{id}/journal. Query parameters:
// type (repeatable or comma-separated) and limit.
func (h *Handlers) ListJournal(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		writeError(w, http.StatusNotImplemented, "event journal is not configured")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := eventstore.Filter{Limit: limit}
	for _, raw := range r.URL.Query()["type"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, event.Type(t))
			}
		}
	}

	events, err := h.Journal.LoadByPlan(r.Context(), urlParam(r, "id"), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
