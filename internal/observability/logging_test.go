package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevLogger, prevTracer := GlobalLogger, Tracer
	t.Cleanup(func() {
		GlobalLogger = prevLogger
		Tracer = prevTracer
	})
	SetupLogging(&buf, "debug", "production")
	return &buf
}

func TestLogSpanFailure_IncludesTraceID(t *testing.T) {
	buf := captureLogs(t)
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	Tracer = tp.Tracer("test")

	span, ctx := StartStoreSpan(context.Background(), "posts", "load_posts")
	defer span.End()
	NewStoreLogger("posts").LogSpanFailure(ctx, "load_posts", span, errors.New("boom"))

	id := span.TraceID()
	require.NotEmpty(t, id)
	assert.Contains(t, buf.String(), `"trace_id":"`+id+`"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestLogSpanFailure_UntracedOmitsTraceID(t *testing.T) {
	buf := captureLogs(t)
	Tracer = noop.NewTracerProvider().Tracer("test")

	span, ctx := StartStoreSpan(context.Background(), "users", "load_users")
	defer span.End()
	NewStoreLogger("users").LogSpanFailure(ctx, "load_users", span, errors.New("boom"))

	assert.Empty(t, span.TraceID())
	assert.NotContains(t, buf.String(), "trace_id")
	assert.Contains(t, buf.String(), `"store":"users"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel(" Debug ").String())
	assert.Equal(t, "WARN", ParseLevel("warning").String())
	assert.Equal(t, "INFO", ParseLevel("verbose").String())
}
