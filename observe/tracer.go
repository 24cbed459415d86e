package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CallMeta identifies one outbound AI call.
type CallMeta struct {
	Provider  string // backend provider, e.g. "openai" (required)
	Model     string // model identifier (optional)
	Operation string // logical operation, e.g. "analyze" (optional)
}

// SpanName is ai.call.<provider>.<operation>, dropping the operation part
// when unset.
func (m CallMeta) SpanName() string {
	if m.Operation != "" {
		return "ai.call." + m.Provider + "." + m.Operation
	}
	return "ai.call." + m.Provider
}

// CallID is <provider>.<operation>, dropping the operation part when unset.
func (m CallMeta) CallID() string {
	if m.Operation != "" {
		return m.Provider + "." + m.Operation
	}
	return m.Provider
}

func (m CallMeta) attrs() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("ai.call", m.CallID()),
		attribute.String("ai.provider", m.Provider),
	}
	if m.Model != "" {
		attrs = append(attrs, attribute.String("ai.model", m.Model))
	}
	return attrs
}

// Tracer starts client spans for outbound AI calls.
type Tracer struct {
	tr trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(tr trace.Tracer) *Tracer {
	return &Tracer{tr: tr}
}

// Start opens a client span named for the call. The ai.error attribute
// starts false and flips in End when the call failed.
func (t *Tracer) Start(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	attrs := append(meta.attrs(), attribute.Bool("ai.error", false))
	if meta.Operation != "" {
		attrs = append(attrs, attribute.String("ai.operation", meta.Operation))
	}

	return t.tr.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// End closes the span, recording err when present.
func (t *Tracer) End(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("ai.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
