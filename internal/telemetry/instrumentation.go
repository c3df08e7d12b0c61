package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes are kept to bounded sets (operation, status, backend name).
// Job ids, URLs and file paths belong in logs, not in attributes.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments artifact ledger operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentBackendOperation instruments calls into the fetch backend.
func (t *Telemetry) InstrumentBackendOperation(ctx context.Context, backend, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "backend_"+operation, "fetch_backend", func(ctx context.Context) error {
		ctx, span := t.Tracer().Start(ctx, "backend_"+operation)
		defer span.End()

		span.SetAttributes(
			attribute.String("backend.type", backend),
			attribute.String("backend.operation", operation),
		)

		return fn(ctx)
	})

	t.RecordBackendOperation(backend, operation, statusOf(err))

	return err
}

// InstrumentJob instruments a worker run. The returned status is the job's
// terminal status and is used as the metric label.
func (t *Telemetry) InstrumentJob(ctx context.Context, fn func(ctx context.Context) string) string {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveJobs()
	defer t.DecrementActiveJobs()

	ctx, span := t.Tracer().Start(ctx, "job")
	defer span.End()

	status := fn(ctx)

	span.SetAttributes(attribute.String("job.status", status))
	if status == "error" {
		span.SetStatus(codes.Error, "job failed")
	}

	t.RecordJob(status, time.Since(start))

	return status
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
