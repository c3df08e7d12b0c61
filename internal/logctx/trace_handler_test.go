package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(NewTraceHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{})))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "output: %s", buf.String())

	return entry
}

func TestTraceHandler_NoCorrelationFields(t *testing.T) {
	var buf bytes.Buffer

	newTestLogger(&buf).InfoContext(context.Background(), "test message", "key", "value")

	entry := decodeEntry(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.NotContains(t, entry, "job_id")
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestTraceHandler_WithValidSpan(t *testing.T) {
	var buf bytes.Buffer

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	newTestLogger(&buf).InfoContext(ctx, "test message")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestTraceHandler_WithJobID(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithJobID(context.Background(), "job-42")
	newTestLogger(&buf).WarnContext(ctx, "progress stalled")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "job-42", entry["job_id"])
}

func TestTraceHandler_EmptyJobIDIgnored(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithJobID(context.Background(), "")
	newTestLogger(&buf).InfoContext(ctx, "hello")

	entry := decodeEntry(t, &buf)
	assert.NotContains(t, entry, "job_id")
}

func TestTraceHandler_Enabled(t *testing.T) {
	handler := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	ctx := context.Background()

	assert.False(t, handler.Enabled(ctx, slog.LevelInfo))
	assert.True(t, handler.Enabled(ctx, slog.LevelWarn))
	assert.True(t, handler.Enabled(ctx, slog.LevelError))
}

func TestTraceHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	handler := NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))

	withAttrs := handler.WithAttrs([]slog.Attr{slog.String("component", "worker")})
	_, ok := withAttrs.(*TraceHandler)
	require.True(t, ok, "WithAttrs should return *TraceHandler, got %T", withAttrs)

	withGroup := withAttrs.WithGroup("job")
	_, ok = withGroup.(*TraceHandler)
	require.True(t, ok, "WithGroup should return *TraceHandler, got %T", withGroup)

	slog.New(withGroup).InfoContext(context.Background(), "test", "status", "completed")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "worker", entry["component"])
	assert.Equal(t, map[string]any{"status": "completed"}, entry["job"])
}

func TestNewTraceHandler_NilHandlerPanics(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestLoggerFromContext(t *testing.T) {
	assert.Equal(t, slog.Default(), LoggerFromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, logger, LoggerFromContext(WithLogger(context.Background(), logger)))

	id, ok := JobIDFromContext(WithJobID(context.Background(), "abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}
