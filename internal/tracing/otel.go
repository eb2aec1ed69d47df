package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName is reported as service.name when none is configured.
const DefaultServiceName = "deepagent"

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry installs a process-wide tracer provider.
// Only the first call has an effect.
func InitOpenTelemetry(serviceName string) error {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	providerOnce.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(semconv.ServiceName(serviceName)),
		)
		if err != nil {
			providerErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1))),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// ShutdownOpenTelemetry flushes and shuts down the global tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and stores its trace id in ctx when none is set yet.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// Fail records err on span and marks it as errored. It returns err unchanged.
func Fail(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
