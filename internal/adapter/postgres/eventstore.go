package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labdesk/taskplanner/internal/domain/event"
	"github.com/labdesk/taskplanner/internal/port/eventstore"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the plan_events table.
func (s *EventStore) Append(ctx context.Context, ev *event.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO plan_events (plan_id, step_id, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.PlanID, nullIfEmpty(ev.StepID), string(ev.Type), nullJSON(ev.Data), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

const eventColumns = `plan_id, COALESCE(step_id, ''), event_type, data, created_at`

func scanEvent(row scannable, ev *event.Event) error {
	var typ string
	var data []byte
	if err := row.Scan(&ev.PlanID, &ev.StepID, &typ, &data, &ev.Timestamp); err != nil {
		return err
	}
	ev.Type = event.Type(typ)
	if len(data) > 0 {
		ev.Data = data
	}
	ev.Timestamp = ev.Timestamp.UTC()
	return nil
}

// LoadByPlan returns the events of a plan ordered by insertion.
func (s *EventStore) LoadByPlan(ctx context.Context, planID string, filter eventstore.Filter) ([]event.Event, error) {
	args := []any{planID}
	conditions := []string{"plan_id = $1"}
	argIdx := 2

	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("event_type = ANY($%d)", argIdx))
		args = append(args, types)
		argIdx++
	}

	query := fmt.Sprintf(`SELECT %s FROM plan_events WHERE %s ORDER BY id ASC`,
		eventColumns, strings.Join(conditions, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load events by plan %s: %w", planID, err)
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		var ev event.Event
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
