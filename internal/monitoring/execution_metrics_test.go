package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestExecutionMetrics_Recorders(t *testing.T) {
	t.Run("Should record started, outcome, and duration instruments", func(t *testing.T) {
		ctx := t.Context()
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		meter := provider.Meter("test")
		metrics, err := NewExecutionMetrics(meter)
		require.NoError(t, err)

		metrics.RecordStart(ctx, "llm_review")
		metrics.RecordOutcome(ctx, "llm_review", true, 250*time.Millisecond)

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(ctx, &rm))

		var sawStarted, sawOutcome, sawDuration bool
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				switch data := m.Data.(type) {
				case metricdata.Sum[int64]:
					switch m.Name {
					case "engine_actions_started_total":
						require.Len(t, data.DataPoints, 1)
						require.Equal(t, int64(1), data.DataPoints[0].Value)
						sawStarted = true
					case "engine_actions_total":
						require.Len(t, data.DataPoints, 1)
						require.Equal(t, int64(1), data.DataPoints[0].Value)
						sawOutcome = true
					}
				case metricdata.Histogram[float64]:
					if m.Name == "engine_action_duration_seconds" {
						require.Len(t, data.DataPoints, 1)
						require.InDelta(t, 0.25, data.DataPoints[0].Sum, 0.0001)
						sawDuration = true
					}
				}
			}
		}
		require.True(t, sawStarted, "expected engine_actions_started_total to be collected")
		require.True(t, sawOutcome, "expected engine_actions_total to be collected")
		require.True(t, sawDuration, "expected engine_action_duration_seconds to be collected")
	})

	t.Run("Should tolerate a nil receiver", func(t *testing.T) {
		var metrics *ExecutionMetrics
		metrics.RecordStart(t.Context(), "llm_review")
		metrics.RecordOutcome(t.Context(), "llm_review", false, time.Second)
	})
}
