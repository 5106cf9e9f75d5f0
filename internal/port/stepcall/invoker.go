// Package stepcall defines the port through which step bindings reach the
// external API routes.
package stepcall

import (
	"context"
	"encoding/json"
)

// Invoker performs one binding call. Implementations must honor ctx
// cancellation and return an error for any non-success response.
type Invoker interface {
	Invoke(ctx context.Context, endpoint string, body any) (json.RawMessage, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, endpoint string, body any) (json.RawMessage, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return f(ctx, endpoint, body)
}
