// Package broadcast defines the port for broadcasting plan events to connected clients.
package broadcast

import (
	"context"

	"github.com/labdesk/taskplanner/internal/domain/event"
)

// Broadcaster sends plan events to connected clients.
type Broadcaster interface {
	// BroadcastEvent delivers ev to every client watching ev.PlanID.
	BroadcastEvent(ctx context.Context, ev event.Event)
}
