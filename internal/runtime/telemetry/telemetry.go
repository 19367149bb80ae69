// Package telemetry implements the dispatcher's processing hooks on top of
// OpenTelemetry tracing and Prometheus counters, and propagates W3C trace
// context through the traceparent and tracestate CloudEvent extensions.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	"github.com/drblury/eventdispatch/internal/runtime/dispatch"
)

const instrumentationName = "github.com/drblury/eventdispatch"

// Telemetry implements dispatch.Telemetry and the producer-side publish hook.
type Telemetry struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	metrics    *Metrics
}

var _ dispatch.Telemetry = (*Telemetry)(nil)

// Option configures a Telemetry.
type Option func(*Telemetry)

// WithTracerProvider selects the tracer provider. The global provider is used
// by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Telemetry) {
		if tp != nil {
			t.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithMetrics records counters and durations into m.
func WithMetrics(m *Metrics) Option {
	return func(t *Telemetry) {
		t.metrics = m
	}
}

// New creates a Telemetry. Trace context always travels as W3C TraceContext
// because the extension names are fixed by that format.
func New(opts ...Option) *Telemetry {
	t := &Telemetry{
		tracer:     otel.GetTracerProvider().Tracer(instrumentationName),
		propagator: propagation.TraceContext{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Metrics returns the configured collectors, or nil.
func (t *Telemetry) Metrics() *Metrics {
	return t.metrics
}

// processingSpan is the dispatch.TraceContext handed back to units.
type processingSpan struct {
	span trace.Span
}

func (p *processingSpan) IsRecording() bool {
	return p.span.IsRecording()
}

func (p *processingSpan) SetConsumer(consumerName, consumerGroup string) {
	p.span.SetAttributes(
		attribute.String("messaging.consumer.name", consumerName),
		attribute.String("messaging.consumer.group.name", consumerGroup),
	)
}

// OnProcessingStart continues the producer's trace, if the event carries one,
// with a consumer span.
func (t *Telemetry) OnProcessingStart(ctx context.Context, pubsubName, topic string, evt cloudevents.Event) (context.Context, dispatch.TraceContext) {
	ctx = t.propagator.Extract(ctx, extensionCarrier(evt))

	ctx, span := t.tracer.Start(
		ctx,
		"process "+topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String(pubsubName),
			semconv.MessagingDestinationName(topic),
			semconv.MessagingMessageID(evt.ID),
			attribute.String("cloudevents.event_type", evt.Type),
			attribute.String("cloudevents.event_source", evt.Source),
		),
	)
	return ctx, &processingSpan{span: span}
}

// OnProcessingEnd records metrics for every unit and closes its span, if any.
func (t *Telemetry) OnProcessingEnd(tc dispatch.TraceContext, status dispatch.Status) {
	if t.metrics != nil {
		md := status.Metadata
		t.metrics.RecordProcessed(md.PubSubName, md.Topic, md.Type, status.Outcome.String(), status.Duration)
	}

	ps, ok := tc.(*processingSpan)
	if !ok || ps == nil {
		return
	}

	ps.span.SetAttributes(attribute.String("eventdispatch.outcome", status.Outcome.String()))
	if status.Outcome.Failed() {
		if status.Err != nil {
			ps.span.RecordError(status.Err)
		}
		ps.span.SetStatus(codes.Error, status.Outcome.String())
	} else {
		ps.span.SetStatus(codes.Ok, status.Outcome.String())
	}
	ps.span.End()
}

// StartPublish opens a producer span for evt and writes its trace context
// into the traceparent and tracestate extensions. The returned function ends
// the span and counts the event when err is nil.
func (t *Telemetry) StartPublish(ctx context.Context, pubsubName, topic string, evt *cloudevents.Event) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(
		ctx,
		"send "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String(pubsubName),
			semconv.MessagingDestinationName(topic),
			semconv.MessagingMessageID(evt.ID),
			attribute.String("cloudevents.event_type", evt.Type),
			attribute.String("cloudevents.event_source", evt.Source),
		),
	)

	carrier := make(propagation.MapCarrier)
	t.propagator.Inject(ctx, carrier)
	for _, key := range carrier.Keys() {
		cloudevents.SetExtension(evt, key, carrier.Get(key))
	}

	return ctx, func(err error) {
		defer span.End()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "publish failed")
			return
		}
		span.SetStatus(codes.Ok, "published")
		if t.metrics != nil {
			t.metrics.RecordPublished(pubsubName, topic, evt.Type)
		}
	}
}

func extensionCarrier(evt cloudevents.Event) propagation.MapCarrier {
	carrier := make(propagation.MapCarrier, 2)
	if v := cloudevents.TraceParent(evt); v != "" {
		carrier.Set(cloudevents.ExtTraceParent, v)
	}
	if v := cloudevents.TraceState(evt); v != "" {
		carrier.Set(cloudevents.ExtTraceState, v)
	}
	return carrier
}
