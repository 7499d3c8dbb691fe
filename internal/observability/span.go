package observability

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName names the tracer and the trace resource when no
// service name is configured.
const DefaultServiceName = "quotafill"

var tracerName atomic.Pointer[string]

// SetTracerName sets the instrumentation name StartSpan uses. New calls
// it with the configured service name.
func SetTracerName(name string) {
	if name == "" {
		name = DefaultServiceName
	}
	tracerName.Store(&name)
}

// TracerName returns the instrumentation name spans are started under.
func TracerName() string {
	if p := tracerName.Load(); p != nil {
		return *p
	}
	return DefaultServiceName
}

// Span attribute keys for record store operations.
const (
	AttrStoreName   = attribute.Key("quotafill.store.name")
	AttrObjectStore = attribute.Key("quotafill.store.object_store")
	AttrBackend     = attribute.Key("quotafill.store.backend")
	AttrValueBytes  = attribute.Key("quotafill.record.bytes")
	AttrErrorType   = attribute.Key("error.type")
)

// StoreAttrs identifies the database, object store, and backend a span
// operates on.
func StoreAttrs(name, objectStore, backend string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrStoreName.String(name),
		AttrObjectStore.String(objectStore),
		AttrBackend.String(backend),
	}
}

// StartSpan starts a span on the configured tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName()).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan ends a span. A failed span carries the error and its
// ErrorType label, so quota rejections are distinguishable from backend
// failures.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(AttrErrorType.String(ErrorType(err)))
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
