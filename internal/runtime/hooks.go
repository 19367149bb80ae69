package runtime

import (
	"context"
	"time"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	"github.com/drblury/eventdispatch/internal/runtime/dispatch"
	loggingpkg "github.com/drblury/eventdispatch/internal/runtime/logging"
)

// JobContext describes one handler invocation to hooks.
type JobContext struct {
	// Metadata is the routing key the handler was found under.
	Metadata cloudevents.Metadata
	// EventID and EventType identify the processed event.
	EventID   string
	EventType string
	// Context is the context passed to the handler.
	Context context.Context
	// StartedAt is when the handler was about to be invoked.
	StartedAt time.Time
	// Duration is only set in OnJobDone and OnJobError.
	Duration time.Duration
	// Outcome is only set in OnJobDone and OnJobError.
	Outcome dispatch.Outcome
}

// JobHooks defines callbacks around handler invocations. Nil hooks are not
// called. Messages without a registered handler never reach the hooks.
type JobHooks struct {
	// OnJobStart is called before the handler is invoked.
	OnJobStart func(ctx JobContext)

	// OnJobDone is called when the handler accepted or skipped the event.
	OnJobDone func(ctx JobContext)

	// OnJobError is called when the handler failed, panicked or rejected
	// the event.
	OnJobError func(ctx JobContext, err error)
}

func (h JobHooks) empty() bool {
	return h.OnJobStart == nil && h.OnJobDone == nil && h.OnJobError == nil
}

// Merge combines two JobHooks. The hooks from other run after the hooks
// from h.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// WithJobHooks wraps next so hooks observe every handler invocation.
func WithJobHooks(next dispatch.Telemetry, hooks JobHooks) dispatch.Telemetry {
	if next == nil {
		next = dispatch.NopTelemetry{}
	}
	if hooks.empty() {
		return next
	}
	return &hookedTelemetry{next: next, hooks: hooks}
}

type hookedTelemetry struct {
	next  dispatch.Telemetry
	hooks JobHooks
}

// jobTrace carries the job context from start to end.
type jobTrace struct {
	inner dispatch.TraceContext
	job   JobContext
}

func (j *jobTrace) IsRecording() bool {
	return j.inner != nil && j.inner.IsRecording()
}

func (j *jobTrace) SetConsumer(consumerName, consumerGroup string) {
	if j.inner != nil {
		j.inner.SetConsumer(consumerName, consumerGroup)
	}
}

func (h *hookedTelemetry) OnProcessingStart(ctx context.Context, pubsubName, topic string, evt cloudevents.Event) (context.Context, dispatch.TraceContext) {
	ctx, inner := h.next.OnProcessingStart(ctx, pubsubName, topic, evt)
	trace := &jobTrace{
		inner: inner,
		job: JobContext{
			Metadata:  cloudevents.RoutingMetadata(pubsubName, topic, evt),
			EventID:   evt.ID,
			EventType: evt.Type,
			Context:   ctx,
			StartedAt: time.Now(),
		},
	}
	if h.hooks.OnJobStart != nil {
		h.hooks.OnJobStart(trace.job)
	}
	return ctx, trace
}

func (h *hookedTelemetry) OnProcessingEnd(tc dispatch.TraceContext, status dispatch.Status) {
	trace, ok := tc.(*jobTrace)
	if !ok {
		h.next.OnProcessingEnd(tc, status)
		return
	}
	h.next.OnProcessingEnd(trace.inner, status)

	job := trace.job
	job.Duration = time.Since(job.StartedAt)
	job.Outcome = status.Outcome
	if status.Outcome.Failed() {
		if h.hooks.OnJobError != nil {
			h.hooks.OnJobError(job, status.Err)
		}
		return
	}
	if h.hooks.OnJobDone != nil {
		h.hooks.OnJobDone(job)
	}
}

// LoggingHooks logs every handler invocation.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	fields := func(ctx JobContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"topic":      ctx.Metadata.Topic,
			"event_id":   ctx.EventID,
			"event_type": ctx.EventType,
		}
	}
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", fields(ctx))
		},
		OnJobDone: func(ctx JobContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Info("Job completed", f)
		},
		OnJobError: func(ctx JobContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			f["outcome"] = ctx.Outcome.String()
			logger.Error("Job failed", err, f)
		},
	}
}

// MetricsHooks reports invocations by event type and topic.
func MetricsHooks(onStart, onDone, onError func(eventType, topic string)) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			if onStart != nil {
				onStart(ctx.EventType, ctx.Metadata.Topic)
			}
		},
		OnJobDone: func(ctx JobContext) {
			if onDone != nil {
				onDone(ctx.EventType, ctx.Metadata.Topic)
			}
		},
		OnJobError: func(ctx JobContext, _ error) {
			if onError != nil {
				onError(ctx.EventType, ctx.Metadata.Topic)
			}
		},
	}
}

// AlertingHooks calls alertFunc for every failed invocation.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{
		OnJobError: alertFunc,
	}
}
