package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type instruments struct {
	httpRequests  metric.Int64Counter
	httpDuration  metric.Float64Histogram
	httpInFlight  metric.Int64UpDownCounter
	jobsFinished  metric.Int64Counter
	jobsRunning   metric.Int64UpDownCounter
	jobDuration   metric.Float64Histogram
	backendCalls  metric.Int64Counter
	backendErrors metric.Int64Counter
	cleanups      metric.Int64Counter
	streamedBytes metric.Int64Counter
	dbOperations  metric.Int64Counter
	dbDuration    metric.Float64Histogram
	systemErrors  metric.Int64Counter
}

// builder accumulates instrument creation errors so newInstruments reads as
// a flat list.
type builder struct {
	meter metric.Meter
	errs  []error
}

func (b *builder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.check(name, err)

	return c
}

func (b *builder) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit("1"))
	b.check(name, err)

	return c
}

func (b *builder) seconds(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	b.check(name, err)

	return h
}

func (b *builder) check(name string, err error) {
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%s: %w", name, err))
	}
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	b := &builder{meter: meter}

	inst := &instruments{
		httpRequests: b.counter("http_requests_total", "Total number of HTTP requests", "1"),
		httpDuration: b.seconds("http_request_duration_seconds", "HTTP request duration in seconds"),
		httpInFlight: b.upDown("http_requests_in_flight", "Number of HTTP requests currently being processed"),

		jobsFinished: b.counter("jobs_total", "Total number of finished download jobs by terminal status", "1"),
		jobsRunning:  b.upDown("jobs_active", "Number of jobs with a running worker"),
		jobDuration:  b.seconds("job_duration_seconds", "Time from submission to terminal status"),

		backendCalls:  b.counter("backend_operations_total", "Total number of fetch backend operations", "1"),
		backendErrors: b.counter("backend_errors_total", "Total number of fetch backend errors", "1"),

		cleanups:      b.counter("artifact_cleanups_total", "Total number of artifact deletions", "1"),
		streamedBytes: b.counter("streamed_bytes_total", "Artifact bytes streamed to clients", "By"),

		dbOperations: b.counter("db_operations_total", "Total number of artifact ledger operations", "1"),
		dbDuration:   b.seconds("db_operation_duration_seconds", "Artifact ledger operation duration in seconds"),

		systemErrors: b.counter("system_errors_total", "Total number of internal failures", "1"),
	}

	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	return inst, nil
}

// RecordHTTPRequest records a served request. route is the chi pattern.
func (t *Telemetry) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", status),
	)

	t.httpRequests.Add(context.Background(), 1, attrs)
	t.httpDuration.Record(context.Background(), duration.Seconds(), attrs)
}

func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil {
		t.httpInFlight.Add(context.Background(), 1)
	}
}

func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil {
		t.httpInFlight.Add(context.Background(), -1)
	}
}

// RecordJob records a job reaching a terminal status.
func (t *Telemetry) RecordJob(status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.jobsFinished.Add(context.Background(), 1, attrs)
	t.jobDuration.Record(context.Background(), duration.Seconds(), attrs)
}

func (t *Telemetry) IncrementActiveJobs() {
	if t != nil {
		t.jobsRunning.Add(context.Background(), 1)
	}
}

func (t *Telemetry) DecrementActiveJobs() {
	if t != nil {
		t.jobsRunning.Add(context.Background(), -1)
	}
}

// RecordBackendOperation counts a probe or fetch call; "error" outcomes are
// also counted in backend_errors_total.
func (t *Telemetry) RecordBackendOperation(backend, operation, status string) {
	if t == nil {
		return
	}

	t.backendCalls.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
		attribute.String("status", status),
	))

	if status == "error" {
		t.backendErrors.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("operation", operation),
		))
	}
}

// RecordCleanup records an artifact deletion. reason is one of
// "retention", "cancelled", "error" or "retry".
func (t *Telemetry) RecordCleanup(reason, status string) {
	if t != nil {
		t.cleanups.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("reason", reason),
			attribute.String("status", status),
		))
	}
}

func (t *Telemetry) RecordStreamedBytes(n int64) {
	if t != nil && n > 0 {
		t.streamedBytes.Add(context.Background(), n)
	}
}

func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperations.Add(context.Background(), 1, attrs)
	t.dbDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordSystemError counts failures that are not attributable to a job input,
// such as a worker panic.
func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t != nil {
		t.systemErrors.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("component", component),
			attribute.String("error_type", errorType),
		))
	}
}
