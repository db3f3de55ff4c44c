// Package tracing provides OpenTelemetry tracing for participant operations.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer defines the interface for distributed tracing.
type Tracer interface {
	// StartRequest starts a span for an incoming complete, compensate or status call.
	StartRequest(ctx context.Context, participant, txID, op string) (context.Context, Span)

	// StartWork starts a span for deferred completion or compensation work.
	StartWork(ctx context.Context, participant, txID, leg string) (context.Context, Span)
}

// Span represents an active tracing span.
type Span interface {
	End()
	SetError(err error)
	SetStatus(code codes.Code, description string)
	SetAttributes(attrs ...attribute.KeyValue)
	AddEvent(name string, attrs ...attribute.KeyValue)
}

// OTelTracer implements Tracer using OpenTelemetry.
type OTelTracer struct {
	tracer trace.Tracer
}

// Config holds configuration for OTelTracer.
type Config struct {
	// ServiceName is the instrumentation name.
	ServiceName string
	// TracerProvider is the OpenTelemetry tracer provider. If nil, the global provider is used.
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName: "lra-participant",
	}
}

// NewOTelTracer creates a new OTelTracer with the given configuration.
func NewOTelTracer(cfg Config) *OTelTracer {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OTelTracer{
		tracer: tp.Tracer(cfg.ServiceName),
	}
}

// StartRequest starts a server span named "participant.<op>".
func (t *OTelTracer) StartRequest(ctx context.Context, participant, txID, op string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, "participant."+op,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("lra.id", txID),
			attribute.String("lra.participant", participant),
		),
	)
	return ctx, &otelSpan{span: span}
}

// StartWork starts an internal span named "participant.work". Work runs
// detached from the request, so the span links to the request span instead
// of being its child.
func (t *OTelTracer) StartWork(ctx context.Context, participant, txID, leg string) (context.Context, Span) {
	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("lra.id", txID),
			attribute.String("lra.participant", participant),
			attribute.String("lra.leg", leg),
		),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: sc}), trace.WithNewRoot())
	}
	ctx, span := t.tracer.Start(ctx, "participant.work", opts...)
	return ctx, &otelSpan{span: span}
}

// otelSpan wraps an OpenTelemetry span.
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetError(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *otelSpan) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

func (s *otelSpan) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// NoopTracer is a no-op implementation of Tracer for testing or when tracing is disabled.
type NoopTracer struct{}

var _ Tracer = (*NoopTracer)(nil)

func (n *NoopTracer) StartRequest(ctx context.Context, participant, txID, op string) (context.Context, Span) {
	return ctx, &noopSpan{}
}

func (n *NoopTracer) StartWork(ctx context.Context, participant, txID, leg string) (context.Context, Span) {
	return ctx, &noopSpan{}
}

// noopSpan is a no-op span implementation.
type noopSpan struct{}

func (s *noopSpan) End()                                              {}
func (s *noopSpan) SetError(err error)                                {}
func (s *noopSpan) SetStatus(code codes.Code, description string)     {}
func (s *noopSpan) SetAttributes(attrs ...attribute.KeyValue)         {}
func (s *noopSpan) AddEvent(name string, attrs ...attribute.KeyValue) {}

// Detach returns ctx carrying the span context of from, so work started on a
// different goroutine can link back to the request that scheduled it.
func Detach(ctx, from context.Context) context.Context {
	sc := trace.SpanContextFromContext(from)
	if !sc.IsValid() {
		return ctx
	}
	return trace.ContextWithSpanContext(ctx, sc)
}
