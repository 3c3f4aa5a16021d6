package monitoring

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// StoreHealthSource is the subset of Store the gauge callback needs.
type StoreHealthSource interface {
	Available() bool
}

// RegisterStoreGauge registers an observable gauge reporting whether the
// Store's connection pool is available (spec §4.1's `health()`).
func RegisterStoreGauge(meter metric.Meter, store StoreHealthSource) error {
	available, err := meter.Int64ObservableGauge(
		"store_available",
		metric.WithDescription("1 if the Store's database connection pool is available, 0 otherwise"),
	)
	if err != nil {
		return fmt.Errorf("create store_available gauge: %w", err)
	}
	_, err = meter.RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			value := int64(0)
			if store.Available() {
				value = 1
			}
			observer.ObserveInt64(available, value)
			return nil
		},
		available,
	)
	if err != nil {
		return fmt.Errorf("register store gauge callback: %w", err)
	}
	return nil
}
