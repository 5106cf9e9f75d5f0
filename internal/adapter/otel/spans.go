package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "taskplanner"

// StartPlanSpan starts a span covering one execution pass over a plan.
func StartPlanSpan(ctx context.Context, planID string, steps int, parallel bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "plan.execute",
		trace.WithAttributes(
			attribute.String("plan.id", planID),
			attribute.Int("plan.steps", steps),
			attribute.Bool("plan.parallel", parallel),
		),
	)
}

// StartStepSpan starts a span for one step attempt.
func StartStepSpan(ctx context.Context, planID, stepID string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step.execute",
		trace.WithAttributes(
			attribute.String("plan.id", planID),
			attribute.String("step.id", stepID),
			attribute.Int("step.attempt", attempt),
		),
	)
}

// StartBindingSpan starts a span for one binding call.
func StartBindingSpan(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "binding.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("binding.endpoint", endpoint)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
