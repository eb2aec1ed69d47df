package tracing

import "context"

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RuntimeIDKey is the context key for the runtime instance ID
	RuntimeIDKey ContextKey = "runtime_id"
	// ThreadIDKey is the context key for the conversation thread ID
	ThreadIDKey ContextKey = "thread_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	RuntimeID string
	ThreadID  string
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRuntimeID adds a runtime instance ID to the context
func WithRuntimeID(ctx context.Context, runtimeID string) context.Context {
	return context.WithValue(ctx, RuntimeIDKey, runtimeID)
}

// WithThreadID adds a thread ID to the context
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, ThreadIDKey, threadID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRuntimeID retrieves the runtime ID from the context
func GetRuntimeID(ctx context.Context) string {
	if runtimeID, ok := ctx.Value(RuntimeIDKey).(string); ok {
		return runtimeID
	}
	return ""
}

// GetThreadID retrieves the thread ID from the context
func GetThreadID(ctx context.Context) string {
	if threadID, ok := ctx.Value(ThreadIDKey).(string); ok {
		return threadID
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		RuntimeID: GetRuntimeID(ctx),
		ThreadID:  GetThreadID(ctx),
	}
}

