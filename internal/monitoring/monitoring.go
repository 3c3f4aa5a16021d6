// Package monitoring wires ambient observability for the Execution
// Engine, Queue, and Store: a Prometheus-backed OpenTelemetry meter for
// the gauges and counters named by spec.md's components, and a tracer
// for the per-action span around the Engine's per-action loop (§4.5).
// Grounded on the teacher's engine/infra/monitoring.Service, trimmed to
// this module's narrower instrument set.
package monitoring

import (
	"context"
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/reviewforge/engine"

// Service bundles a meter and tracer for process-wide instrumentation.
// Observability never gates the behavior it instruments: a disabled (or
// failed-to-initialize) Service falls back to no-op instruments rather
// than an error the caller must handle specially.
type Service struct {
	meter    metric.Meter
	tracer   trace.Tracer
	registry *prom.Registry

	metricsProvider *sdkmetric.MeterProvider
	traceProvider   *sdktrace.TracerProvider
	enabled         bool
}

func disabled() *Service {
	return &Service{
		meter:  noop.NewMeterProvider().Meter(instrumentationName),
		tracer: nooptrace.NewTracerProvider().Tracer(instrumentationName),
	}
}

// New builds a Service backed by a dedicated Prometheus registry. When
// enabled is false it returns a fully no-op Service, used for local
// development and tests where standing up a registry is pure overhead.
func New(enabled bool) (*Service, error) {
	if !enabled {
		return disabled(), nil
	}
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("monitoring: init prometheus exporter: %w", err)
	}
	metricsProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	traceProvider := sdktrace.NewTracerProvider()
	return &Service{
		meter:           metricsProvider.Meter(instrumentationName),
		tracer:          traceProvider.Tracer(instrumentationName),
		registry:        registry,
		metricsProvider: metricsProvider,
		traceProvider:   traceProvider,
		enabled:         true,
	}, nil
}

// Meter returns the OpenTelemetry meter instruments should be created
// against.
func (s *Service) Meter() metric.Meter { return s.meter }

// Tracer returns the OpenTelemetry tracer the Execution Engine's
// per-action loop starts spans against.
func (s *Service) Tracer() trace.Tracer { return s.tracer }

// Handler serves the Prometheus scrape endpoint. A disabled Service
// reports 503 rather than panicking on a nil registry.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.enabled {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// Shutdown flushes and stops the underlying providers. A no-op on a
// disabled Service.
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	if err := s.traceProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown trace provider: %w", err)
	}
	if err := s.metricsProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics provider: %w", err)
	}
	return nil
}
