package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns baseLogger enriched with the tracing fields found in ctx.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return baseLogger
	}
	tc := FromContext(ctx)

	lc := baseLogger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RuntimeID != "" {
		lc = lc.Str("runtime_id", tc.RuntimeID)
	}
	if tc.ThreadID != "" {
		lc = lc.Str("thread_id", tc.ThreadID)
	}
	return lc.Logger()
}
