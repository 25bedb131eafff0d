// Package telemetry wires OpenTelemetry tracing into clienthub.
//
// Every dispatched RPC gets a server span; readiness evaluations and
// mailbox operations get child spans. With tracing disabled the global
// tracer is a no-op and spans cost next to nothing.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vinayprograms/clienthub/errors"
)

// Attribute keys.
const (
	AttrRPCMethod = attribute.Key("rpc.method")
	AttrRPCSystem = attribute.Key("rpc.system")
	AttrService   = attribute.Key("clienthub.service_id")
	AttrClient    = attribute.Key("clienthub.client_id")
	AttrMessage   = attribute.Key("clienthub.message_id")
	AttrErrorCode = attribute.Key("clienthub.error_code")
)

// Tracer wraps an OpenTelemetry tracer with clienthub span helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFromProvider creates a tracer from a specific provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// StartRPCSpan starts a server span for one JSON-RPC call.
func (t *Tracer) StartRPCSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "rpc."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			AttrRPCSystem.String("jsonrpc"),
			AttrRPCMethod.String(method),
		))
}

// StartClientSpan starts an internal span for work on one client.
func (t *Tracer) StartClientSpan(ctx context.Context, name, clientID, serviceID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrClient.String(clientID)}
	if serviceID != "" {
		attrs = append(attrs, AttrService.String(serviceID))
	}
	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

// StartMailboxSpan starts an internal span for a mailbox operation.
func (t *Tracer) StartMailboxSpan(ctx context.Context, op, serviceID, clientID, messageID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrService.String(serviceID)}
	if clientID != "" {
		attrs = append(attrs, AttrClient.String(clientID))
	}
	if messageID != "" {
		attrs = append(attrs, AttrMessage.String(messageID))
	}
	return t.tracer.Start(ctx, "mailbox."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

// EndSpan records err, if any, and ends the span. Coded errors add their
// code as an attribute.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := errors.Code(err); code != "" {
			span.SetAttributes(AttrErrorCode.String(string(code)))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
