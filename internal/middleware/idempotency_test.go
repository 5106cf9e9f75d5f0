package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labdesk/taskplanner/internal/middleware"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func makeTestHandler(counter *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func serve(h http.Handler, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_NoHeader(t *testing.T) {
	counter := 0
	store := newMemStore()
	h := middleware.Idempotency(store, time.Hour)(makeTestHandler(&counter, http.StatusCreated))

	serve(h, http.MethodPost, "/api/v1/plans", "")
	serve(h, http.MethodPost, "/api/v1/plans", "")
	if counter != 2 || store.len() != 0 {
		t.Fatalf("expected 2 calls and nothing stored, got %d / %d", counter, store.len())
	}
}

func TestIdempotency_SecondRequestReplays(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMemStore(), time.Hour)(makeTestHandler(&counter, http.StatusCreated))

	first := serve(h, http.MethodPost, "/api/v1/plans", "key-2")
	second := serve(h, http.MethodPost, "/api/v1/plans", "key-2")

	if counter != 1 {
		t.Fatalf("expected handler called once, got %d", counter)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay differs: %d %q vs %q", second.Code, second.Body.String(), first.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay marker header")
	}
	if first.Header().Get("Idempotent-Replayed") != "" {
		t.Error("first response must not be marked as replay")
	}
}

func TestIdempotency_KeyIsScopedToPath(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMemStore(), time.Hour)(makeTestHandler(&counter, http.StatusAccepted))

	serve(h, http.MethodPost, "/api/v1/plans/a/execute", "k")
	serve(h, http.MethodPost, "/api/v1/plans/b/execute", "k")
	if counter != 2 {
		t.Fatalf("expected 2 calls, got %d", counter)
	}
}

func TestIdempotency_ServerErrorsAreNotRecorded(t *testing.T) {
	counter := 0
	store := newMemStore()
	h := middleware.Idempotency(store, time.Hour)(makeTestHandler(&counter, http.StatusBadGateway))

	serve(h, http.MethodPost, "/api/v1/plans", "retry-me")
	serve(h, http.MethodPost, "/api/v1/plans", "retry-me")
	if counter != 2 || store.len() != 0 {
		t.Fatalf("expected retries to reach the handler, got %d calls / %d stored", counter, store.len())
	}
}

func TestIdempotency_SafeMethodsIgnored(t *testing.T) {
	counter := 0
	store := newMemStore()
	h := middleware.Idempotency(store, time.Hour)(makeTestHandler(&counter, http.StatusOK))

	serve(h, http.MethodGet, "/api/v1/plans", "key-get")
	serve(h, http.MethodGet, "/api/v1/plans", "key-get")
	if counter != 2 || store.len() != 0 {
		t.Fatalf("GET must bypass idempotency, got %d calls", counter)
	}
}

func TestIdempotency_RejectsOversizedKey(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMemStore(), time.Hour)(makeTestHandler(&counter, http.StatusCreated))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'k'
	}
	rec := serve(h, http.MethodPost, "/api/v1/plans", string(long))
	if rec.Code != http.StatusBadRequest || counter != 0 {
		t.Fatalf("expected 400 without handler call, got %d / %d", rec.Code, counter)
	}
}
