package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "taskplanner"

// Metrics holds the plan execution instruments.
type Metrics struct {
	PlansCreated   metric.Int64Counter
	PlansFinished  metric.Int64Counter
	StepsFinished  metric.Int64Counter
	BindingCalls   metric.Int64Counter
	PlanDuration   metric.Float64Histogram
	StepDuration   metric.Float64Histogram
	EventsDropped  metric.Int64Counter
	ValidationRuns metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.PlansCreated, err = meter.Int64Counter("taskplanner.plans.created",
		metric.WithDescription("Number of plans built")); err != nil {
		return nil, err
	}
	if m.PlansFinished, err = meter.Int64Counter("taskplanner.plans.finished",
		metric.WithDescription("Number of plan executions reaching a terminal status")); err != nil {
		return nil, err
	}
	if m.StepsFinished, err = meter.Int64Counter("taskplanner.steps.finished",
		metric.WithDescription("Number of step executions by outcome")); err != nil {
		return nil, err
	}
	if m.BindingCalls, err = meter.Int64Counter("taskplanner.binding.calls",
		metric.WithDescription("Number of binding calls by endpoint")); err != nil {
		return nil, err
	}
	if m.PlanDuration, err = meter.Float64Histogram("taskplanner.plan.duration_seconds",
		metric.WithDescription("Plan execution duration in seconds")); err != nil {
		return nil, err
	}
	if m.StepDuration, err = meter.Float64Histogram("taskplanner.step.duration_seconds",
		metric.WithDescription("Step execution duration in seconds")); err != nil {
		return nil, err
	}
	if m.EventsDropped, err = meter.Int64Counter("taskplanner.events.dropped",
		metric.WithDescription("Events dropped by the sink dispatcher")); err != nil {
		return nil, err
	}
	if m.ValidationRuns, err = meter.Int64Counter("taskplanner.validation.runs",
		metric.WithDescription("Plan validations by result")); err != nil {
		return nil, err
	}
	return m, nil
}

// PlanCreated records a built plan.
func (m *Metrics) PlanCreated(ctx context.Context, steps int) {
	m.PlansCreated.Add(ctx, 1, metric.WithAttributes(attribute.Int("steps", steps)))
}

// PlanFinished records a terminal execution status and its duration.
func (m *Metrics) PlanFinished(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.PlansFinished.Add(ctx, 1, attrs)
	m.PlanDuration.Record(ctx, seconds, attrs)
}

// StepFinished records a step outcome and its duration.
func (m *Metrics) StepFinished(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.StepsFinished.Add(ctx, 1, attrs)
	m.StepDuration.Record(ctx, seconds, attrs)
}

// BindingCalled records one binding call.
func (m *Metrics) BindingCalled(ctx context.Context, endpoint string, ok bool) {
	m.BindingCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Bool("ok", ok),
	))
}

// EventDropped records an event the sink dispatcher could not queue.
func (m *Metrics) EventDropped(ctx context.Context, sink string) {
	m.EventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// Validated records a validation result.
func (m *Metrics) Validated(ctx context.Context, valid bool, issues int) {
	m.ValidationRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("valid", valid),
		attribute.Int("issues", issues),
	))
}
