// Package eventstore defines the port interface for the append-only plan event journal.
package eventstore

import (
	"context"

	"github.com/labdesk/taskplanner/internal/domain/event"
)

// Filter narrows a journal query.
type Filter struct {
	Types []event.Type
	// Limit caps the number of returned events; zero means no limit.
	Limit int
}

// Store is the port interface for appending and loading plan events.
type Store interface {
	// Append persists a new event to the journal.
	Append(ctx context.Context, ev *event.Event) error

	// LoadByPlan returns the events of a plan in append order.
	LoadByPlan(ctx context.Context, planID string, filter Filter) ([]event.Event, error)
}
