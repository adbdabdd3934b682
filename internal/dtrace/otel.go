// Package dtrace wraps the OpenTelemetry tracing API
// so that the rest of the module only references this package.
package dtrace

import (
	otelattr "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	otpnoop "go.opentelemetry.io/otel/trace/noop"
)

type TracerProvider = oteltrace.TracerProvider

type Tracer = oteltrace.Tracer

type Span = oteltrace.Span

type KeyValueAttr = otelattr.KeyValue

// TracerName is the instrumentation name for tracers created by this module.
const TracerName = "github.com/gordian-engine/dnotif"

// NopTracerProvider returns the otel no-op tracer provider.
// This is intended to use as a fallback when a nil tracer provider is given.
func NopTracerProvider() TracerProvider {
	return otpnoop.NewTracerProvider()
}

// NewTracer returns the module's tracer from tp,
// falling back to [NopTracerProvider] if tp is nil.
func NewTracer(tp TracerProvider) Tracer {
	if tp == nil {
		tp = NopTracerProvider()
	}
	return tp.Tracer(TracerName)
}

// WithAttributes is an alias to [oteltrace.WithAttributes]
// to allow consumers to only reference the dtrace package.
func WithAttributes(attrs ...KeyValueAttr) oteltrace.SpanStartEventOption {
	return oteltrace.WithAttributes(attrs...)
}

// SpanError sets the given span to error status,
// with detail from err.Error().
func SpanError(span Span, err error) {
	span.SetStatus(otelcodes.Error, err.Error())
}

func ProtocolAttr(name string) KeyValueAttr {
	return otelattr.String("dnotif.protocol", name)
}

func HandshakeSizeAttr(key string, n int) KeyValueAttr {
	return otelattr.Int(key, n)
}

func PeerAttr(peer string) KeyValueAttr {
	return otelattr.String("dnotif.peer", peer)
}
