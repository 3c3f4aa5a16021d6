package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var actionDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// ExecutionMetrics instruments the Execution Engine's per-action loop
// (spec §4.5).
type ExecutionMetrics struct {
	started  metric.Int64Counter
	outcome  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewExecutionMetrics registers the Engine's counters and histogram
// against meter.
func NewExecutionMetrics(meter metric.Meter) (*ExecutionMetrics, error) {
	started, err := meter.Int64Counter(
		"engine_actions_started_total",
		metric.WithDescription("Actions the Execution Engine has started invoking"),
	)
	if err != nil {
		return nil, fmt.Errorf("create actions_started counter: %w", err)
	}
	outcome, err := meter.Int64Counter(
		"engine_actions_total",
		metric.WithDescription("Actions the Execution Engine has finished, labeled by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create actions_total counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"engine_action_duration_seconds",
		metric.WithDescription("Wall time spent running one action, including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(actionDurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("create action_duration histogram: %w", err)
	}
	return &ExecutionMetrics{started: started, outcome: outcome, duration: duration}, nil
}

// RecordStart marks one action handler invocation beginning.
func (m *ExecutionMetrics) RecordStart(ctx context.Context, actionType string) {
	if m == nil {
		return
	}
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String("action_type", actionType)))
}

// RecordOutcome marks one action handler invocation finishing, labeled
// by whether it succeeded and how long it ran (including retries).
func (m *ExecutionMetrics) RecordOutcome(ctx context.Context, actionType string, succeeded bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action_type", actionType),
		attribute.Bool("succeeded", succeeded),
	)
	m.outcome.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
