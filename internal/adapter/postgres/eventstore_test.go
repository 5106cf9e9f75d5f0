package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/labdesk/taskplanner/internal/adapter/postgres"
	"github.com/labdesk/taskplanner/internal/config"
	"github.com/labdesk/taskplanner/internal/domain/event"
	"github.com/labdesk/taskplanner/internal/port/eventstore"
)

// setupEventStore connects to DATABASE_URL, migrates, and returns a journal.
func setupEventStore(t *testing.T) *postgres.EventStore {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	pool, err := postgres.NewPool(ctx, config.Postgres{DSN: dsn, MaxConns: 4})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewEventStore(pool)
}

func TestEventStoreAppendAndLoad(t *testing.T) {
	store := setupEventStore(t)
	ctx := context.Background()
	planID := uuid.NewString()

	evs := []event.Event{
		event.New(event.TypePlanCreated, planID, "", map[string]int{"total_steps": 2}),
		event.New(event.TypeStepStarted, planID, "s1", nil),
		event.New(event.TypeStepCompleted, planID, "s1", map[string]string{"result": "ok"}),
		event.New(event.TypePlanCompleted, planID, "", nil),
	}
	for i := range evs {
		if err := store.Append(ctx, &evs[i]); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := store.LoadByPlan(ctx, planID, eventstore.Filter{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(evs) {
		t.Fatalf("expected %d events, got %d", len(evs), len(got))
	}
	for i := range evs {
		if got[i].Type != evs[i].Type || got[i].StepID != evs[i].StepID {
			t.Errorf("event %d: expected %s/%s, got %s/%s", i, evs[i].Type, evs[i].StepID, got[i].Type, got[i].StepID)
		}
	}
	if got[1].Data != nil {
		t.Errorf("expected empty payload to round-trip as nil, got %s", got[1].Data)
	}

	steps, err := store.LoadByPlan(ctx, planID, eventstore.Filter{
		Types: []event.Type{event.TypeStepStarted, event.TypeStepCompleted},
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("filtered load: %v", err)
	}
	if len(steps) != 1 || steps[0].Type != event.TypeStepStarted {
		t.Fatalf("expected only step_started, got %+v", steps)
	}
}

func TestEventStoreUnknownPlanIsEmpty(t *testing.T) {
	store := setupEventStore(t)
	got, err := store.LoadByPlan(context.Background(), uuid.NewString(), eventstore.Filter{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events, got %d", len(got))
	}
}

func TestMigrationVersion(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Fatalf("expected version >= 1, got %d", v)
	}
}
