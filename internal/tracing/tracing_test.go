package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetRuntimeID(ctx))
	assert.Empty(t, GetThreadID(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRuntimeID(ctx, "rt-1")
	ctx = WithThreadID(ctx, "thread-1")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "rt-1", tc.RuntimeID)
	assert.Equal(t, "thread-1", tc.ThreadID)
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithThreadID(WithTraceID(context.Background(), "trace-xyz"), "thread-abc")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("test")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"trace-xyz"`)
	assert.Contains(t, out, `"thread_id":"thread-abc"`)
	assert.NotContains(t, out, "runtime_id")
}

func TestStartSpanSetsTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("deepagent-test"))
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(context.Background()) })

	ctx, span := StartSpan(context.Background(), "deepagent.test", "test.op")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestStartSpanKeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "existing")
	ctx, span := StartSpan(ctx, "deepagent.test", "test.op")
	defer span.End()

	assert.Equal(t, "existing", GetTraceID(ctx))
}

func TestFail(t *testing.T) {
	_, span := StartSpan(context.Background(), "deepagent.test", "test.fail")
	defer span.End()

	assert.NoError(t, Fail(span, nil))
	err := errors.New("boom")
	assert.Same(t, err, Fail(span, err))
}
