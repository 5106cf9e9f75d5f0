package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ---------------------------------------------------------------------------
// Generic handler factories
// ---------------------------------------------------------------------------

// handleList creates a handler that lists resources and returns JSON.
func handleList[T any](listFn func() []T) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		items := listFn()
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// handleGet creates a handler that retrieves a single resource by URL param "id".
func handleGet[T any](getFn func(id string) (*T, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := getFn(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// handleControl creates a handler for a state transition on the execution
// identified by URL param "id". ok=false answers 409 with conflictMsg.
func handleControl(controlFn func(id string) bool, status, conflictMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !controlFn(id) {
			writeError(w, http.StatusConflict, conflictMsg)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"plan_id": id, "status": status})
	}
}
