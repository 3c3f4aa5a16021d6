package monitoring

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/reviewforge/engine/internal/queue"
)

// QueueStatsSource is the subset of Queue the gauge callback needs.
type QueueStatsSource interface {
	Stats(ctx context.Context) (*queue.Stats, error)
	Degraded() bool
}

// RegisterQueueGauges registers observable gauges for the Queue's
// sub-queue depths and degraded state (spec §4.4's `stats()`/`health()`).
// The callback swallows a failed Stats call rather than erroring the
// whole observation pass: a momentarily unreachable broker should not
// take down every other registered gauge.
func RegisterQueueGauges(meter metric.Meter, q QueueStatsSource) error {
	pending, err := meter.Int64ObservableGauge(
		"queue_pending_items",
		metric.WithDescription("Work items waiting to be dequeued"),
	)
	if err != nil {
		return fmt.Errorf("create queue_pending_items gauge: %w", err)
	}
	processing, err := meter.Int64ObservableGauge(
		"queue_processing_items",
		metric.WithDescription("Work items currently claimed by a worker"),
	)
	if err != nil {
		return fmt.Errorf("create queue_processing_items gauge: %w", err)
	}
	failed, err := meter.Int64ObservableGauge(
		"queue_failed_items",
		metric.WithDescription("Work items moved to the failed sub-queue"),
	)
	if err != nil {
		return fmt.Errorf("create queue_failed_items gauge: %w", err)
	}
	degraded, err := meter.Int64ObservableGauge(
		"queue_degraded",
		metric.WithDescription("1 if the Queue's broker connection is degraded, 0 otherwise"),
	)
	if err != nil {
		return fmt.Errorf("create queue_degraded gauge: %w", err)
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			stats, statsErr := q.Stats(ctx)
			if statsErr == nil {
				observer.ObserveInt64(pending, stats.Pending)
				observer.ObserveInt64(processing, stats.Processing)
				observer.ObserveInt64(failed, stats.Failed)
			}
			degradedValue := int64(0)
			if q.Degraded() {
				degradedValue = 1
			}
			observer.ObserveInt64(degraded, degradedValue)
			return nil
		},
		pending, processing, failed, degraded,
	)
	if err != nil {
		return fmt.Errorf("register queue gauge callback: %w", err)
	}
	return nil
}
