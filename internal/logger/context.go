package logger

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	planIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithPlanID returns a new context carrying the plan being worked on.
func WithPlanID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, planIDKey, id)
}

// PlanID extracts the plan ID from the context, or "".
func PlanID(ctx context.Context) string {
	id, _ := ctx.Value(planIDKey).(string)
	return id
}
