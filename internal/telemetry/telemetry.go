// Package telemetry wires OpenTelemetry metrics and traces for the service.
// Metrics are exposed for Prometheus scraping and optionally pushed over OTLP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry holds the providers and every instrument the service records to.
// A nil *Telemetry is valid and records nothing.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	exporter       *prometheus.Exporter
	tracer         trace.Tracer
	meter          metric.Meter
	started        time.Time

	*instruments
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, pushes metrics over OTLP/gRPC in addition to
	// the Prometheus pull endpoint.
	OTLPEndpoint string
}

// New creates a telemetry instance. When disabled, instruments are backed by
// no-op providers and the metrics endpoint answers 404.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return newTelemetry(metricnoop.NewMeterProvider().Meter(""), tracenoop.NewTracerProvider().Tracer(""))
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	t, err := newTelemetry(meterProvider.Meter(cfg.ServiceName), tracerProvider.Tracer(cfg.ServiceName))
	if err != nil {
		return nil, err
	}

	t.meterProvider = meterProvider
	t.tracerProvider = tracerProvider
	t.exporter = exporter

	return t, nil
}

func newTelemetry(meter metric.Meter, tracer trace.Tracer) (*Telemetry, error) {
	t := &Telemetry{meter: meter, tracer: tracer, started: time.Now()}

	inst, err := newInstruments(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	t.instruments = inst

	if _, err := meter.Float64ObservableGauge("system_uptime_seconds",
		metric.WithDescription("Time since the process started"),
		metric.WithUnit("s"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(time.Since(t.started).Seconds())

			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return t, nil
}

// ObserveJobs exports the number of registered jobs per status, read from
// counts at every collection.
func (t *Telemetry) ObserveJobs(counts func() map[string]int) error {
	if t == nil {
		return nil
	}

	_, err := t.meter.Int64ObservableGauge("jobs_registered",
		metric.WithDescription("Jobs currently held in the registry by status"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for status, n := range counts() {
				o.Observe(int64(n), metric.WithAttributes(attribute.String("status", status)))
			}

			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create jobs_registered gauge: %w", err)
	}

	return nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("mediafetch")
	}

	return t.tracer
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error

	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}

	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}

	return errors.Join(errs...)
}
