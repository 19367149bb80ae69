package dispatch

import (
	"context"
	"time"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	loggingpkg "github.com/drblury/eventdispatch/internal/runtime/logging"
	"github.com/drblury/eventdispatch/internal/runtime/registry"
)

// HandlerLookup is the read side of the registry used on the hot path.
type HandlerLookup interface {
	TryGetHandler(md cloudevents.Metadata) (*registry.Binding, bool)
}

// Redeliverer republishes messages whose handler failed.
type Redeliverer interface {
	// Reproduce republishes msg on its original topic with the payload bytes
	// unchanged. It returns errors.ErrRedeliveryExhausted when the message
	// was dead-lettered instead.
	Reproduce(ctx context.Context, msg RawMessage) error
	// DeadLetter moves msg out of the processing topic for good.
	DeadLetter(ctx context.Context, msg RawMessage, cause error) error
}

// TraceContext is the active processing span returned by Telemetry.
type TraceContext interface {
	IsRecording() bool
	SetConsumer(consumerName, consumerGroup string)
}

// Status is reported to Telemetry when a unit finishes.
type Status struct {
	Metadata cloudevents.Metadata
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Telemetry receives the processing hooks of every unit.
type Telemetry interface {
	// OnProcessingStart is called once a handler has been found. The
	// returned context is passed to the handler; the trace context may be
	// nil.
	OnProcessingStart(ctx context.Context, pubsubName, topic string, evt cloudevents.Event) (context.Context, TraceContext)
	// OnProcessingEnd is called exactly once per unit, before completion is
	// signalled. trace is nil when OnProcessingStart was not reached.
	OnProcessingEnd(trace TraceContext, status Status)
}

// Deps bundles the collaborators of a Unit. Nil fields are replaced with
// no-op implementations, except Handlers which is required.
type Deps struct {
	// Context is the parent of every unit scope. It defaults to
	// context.Background.
	Context     context.Context
	Handlers    HandlerLookup
	Redeliverer Redeliverer
	Telemetry   Telemetry
	Logger      loggingpkg.ServiceLogger
}

func (d Deps) withDefaults() Deps {
	if d.Context == nil {
		d.Context = context.Background()
	}
	if d.Telemetry == nil {
		d.Telemetry = NopTelemetry{}
	}
	if d.Logger == nil {
		d.Logger = loggingpkg.NewNopServiceLogger()
	}
	return d
}

// NopTelemetry ignores every hook.
type NopTelemetry struct{}

func (NopTelemetry) OnProcessingStart(ctx context.Context, _, _ string, _ cloudevents.Event) (context.Context, TraceContext) {
	return ctx, nil
}

func (NopTelemetry) OnProcessingEnd(TraceContext, Status) {}
