// Package dispatch turns one consumed message into at most one handler
// invocation and signals its completion to the consumption loop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventdispatch/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventdispatch/internal/runtime/logging"
	"github.com/drblury/eventdispatch/internal/runtime/registry"
)

// Unit processes a single message. It may be started from several goroutines;
// only the first Start or Run executes the body. Done is closed exactly once,
// on every exit path, after telemetry and logging for the unit have finished.
type Unit struct {
	msg     RawMessage
	channel *ChannelContext
	deps    Deps
	log     loggingpkg.ServiceLogger

	ctx    context.Context
	cancel context.CancelFunc

	started atomic.Bool
	outcome atomic.Int32
	done    chan struct{}
}

type execution struct {
	start   time.Time
	md      cloudevents.Metadata
	trace   TraceContext
	outcome Outcome
	err     error
}

// New creates a unit for msg received on channel. The unit's cancellation
// scope is derived from deps.Context.
func New(msg RawMessage, channel *ChannelContext, deps Deps) *Unit {
	if channel == nil {
		channel = &ChannelContext{Topic: msg.Topic, Partition: msg.Partition}
	}
	deps = deps.withDefaults()
	ctx, cancel := context.WithCancel(deps.Context)

	return &Unit{
		msg:     msg,
		channel: channel,
		deps:    deps,
		log: deps.Logger.With(loggingpkg.LogFields{
			"pubsub_name":  channel.PubSubName,
			"topic":        msg.Topic,
			"partition":    msg.Partition,
			"offset":       msg.Offset,
			"message_uuid": msg.UUID,
		}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start runs the unit on a new goroutine. It returns false when the unit was
// already started.
func (u *Unit) Start() bool {
	if !u.started.CompareAndSwap(false, true) {
		return false
	}
	go u.execute()
	return true
}

// Run executes the unit on the calling goroutine and returns once it has
// completed. It returns immediately when the unit was already started.
func (u *Unit) Run() {
	if !u.started.CompareAndSwap(false, true) {
		return
	}
	u.execute()
}

// Started reports whether Start or Run has claimed the unit.
func (u *Unit) Started() bool {
	return u.started.Load()
}

// Done is closed when the unit has completed.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

// WaitToComplete blocks until the unit has completed or ctx ends. It may be
// called any number of times, before or after Start.
func (u *Unit) WaitToComplete(ctx context.Context) error {
	select {
	case <-u.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel cancels the unit's scope. A running handler observes it through its
// context; the unit still completes.
func (u *Unit) Cancel() {
	u.cancel()
}

// Outcome returns the terminal state, or OutcomePending before completion.
func (u *Unit) Outcome() Outcome {
	return Outcome(u.outcome.Load())
}

// Message returns the raw message handled by the unit.
func (u *Unit) Message() RawMessage {
	return u.msg
}

func (u *Unit) execute() {
	defer close(u.done)
	defer u.cancel()

	exec := &execution{start: time.Now(), outcome: OutcomeFaulted}
	defer u.finish(exec)

	u.process(exec)
}

// finish runs on every exit path, including a panic escaping process.
func (u *Unit) finish(exec *execution) {
	if r := recover(); r != nil {
		exec.outcome = OutcomeFaulted
		exec.err = &PanicError{Value: r, Stack: debug.Stack()}
		u.log.Error("unexpected fault while dispatching message", exec.err, loggingpkg.LogFields{
			"position": u.msg.Position(),
		})
	}

	u.endTelemetry(exec)
	u.outcome.Store(int32(exec.outcome))
}

func (u *Unit) endTelemetry(exec *execution) {
	defer func() {
		if r := recover(); r != nil {
			u.log.Error("telemetry end hook panicked", fmt.Errorf("%v", r), nil)
		}
	}()
	u.deps.Telemetry.OnProcessingEnd(exec.trace, Status{
		Metadata: exec.md,
		Outcome:  exec.outcome,
		Err:      exec.err,
		Duration: time.Since(exec.start),
	})
}

func (u *Unit) process(exec *execution) {
	evt, err := cloudevents.Decode(u.msg.Payload)
	if err != nil {
		exec.outcome = OutcomeFaulted
		exec.err = err
		u.log.Error("failed to decode cloudevent", err, u.malformedFields())
		return
	}

	exec.md = cloudevents.RoutingMetadata(u.channel.PubSubName, u.msg.Topic, evt)
	log := u.log.With(loggingpkg.LogFields{
		"event_id":     evt.ID,
		"event_type":   evt.Type,
		"event_source": evt.Source,
	})

	if u.deps.Handlers == nil {
		exec.outcome = OutcomeSkipped
		log.Debug("handler not found", loggingpkg.LogFields{"reason": "no registry"})
		return
	}
	binding, ok := u.deps.Handlers.TryGetHandler(exec.md)
	if !ok {
		exec.outcome = OutcomeSkipped
		log.Debug("handler not found", nil)
		return
	}

	ctx, trace := u.deps.Telemetry.OnProcessingStart(u.ctx, u.channel.PubSubName, u.msg.Topic, evt)
	exec.trace = trace
	if trace != nil && trace.IsRecording() {
		trace.SetConsumer(u.channel.ConsumerName, u.channel.ConsumerGroup)
	}

	exec.err = invoke(ctx, binding, evt)

	switch cloudevents.ClassifyError(exec.err) {
	case cloudevents.ResultAck:
		exec.outcome = OutcomeSucceeded
		log.Trace("cloudevent handled", nil)
	case cloudevents.ResultSkip:
		exec.outcome = OutcomeSucceeded
		log.Debug("handler skipped cloudevent", loggingpkg.LogFields{"reason": exec.err.Error()})
	case cloudevents.ResultDeadLetter:
		exec.outcome = OutcomeDeadLettered
		log.Error("handler rejected cloudevent", exec.err, nil)
		u.deadLetter(log, exec.err)
	default:
		log.Error("handler failed, redelivering message", exec.err, nil)
		exec.outcome = u.redeliver(log)
	}
}

func invoke(ctx context.Context, binding *registry.Binding, evt cloudevents.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return binding.Invoke(ctx, evt)
}

// redeliveryContext keeps the unit's values but not its cancellation, so a
// cancelled unit still hands its message back to the broker.
func (u *Unit) redeliveryContext() context.Context {
	return context.WithoutCancel(u.ctx)
}

var errNoRedeliverer = errors.New("eventdispatch: no redeliverer configured")

func (u *Unit) redeliver(log loggingpkg.ServiceLogger) Outcome {
	if u.deps.Redeliverer == nil {
		log.Error("failed to redeliver message", errNoRedeliverer, loggingpkg.LogFields{"position": u.msg.Position()})
		return OutcomeFailedRedelivered
	}
	err := u.deps.Redeliverer.Reproduce(u.redeliveryContext(), u.msg)
	switch {
	case err == nil:
		return OutcomeFailedRedelivered
	case errors.Is(err, errspkg.ErrRedeliveryExhausted):
		log.Info("redelivery limit reached, message dead-lettered", loggingpkg.LogFields{"position": u.msg.Position()})
		return OutcomeDeadLettered
	default:
		log.Error("failed to redeliver message", err, loggingpkg.LogFields{"position": u.msg.Position()})
		return OutcomeFailedRedelivered
	}
}

func (u *Unit) deadLetter(log loggingpkg.ServiceLogger, cause error) {
	if u.deps.Redeliverer == nil {
		log.Error("failed to dead letter message", errNoRedeliverer, loggingpkg.LogFields{"position": u.msg.Position()})
		return
	}
	if err := u.deps.Redeliverer.DeadLetter(u.redeliveryContext(), u.msg, cause); err != nil {
		log.Error("failed to dead letter message", err, loggingpkg.LogFields{"position": u.msg.Position()})
	}
}

// malformedFields recovers what it can from a payload that failed to decode.
func (u *Unit) malformedFields() loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"position":     u.msg.Position(),
		"payload_size": len(u.msg.Payload),
	}
	if !gjson.ValidBytes(u.msg.Payload) {
		return fields
	}
	if id := gjson.GetBytes(u.msg.Payload, "id"); id.Exists() {
		fields["event_id"] = id.String()
	}
	if typ := gjson.GetBytes(u.msg.Payload, "type"); typ.Exists() {
		fields["event_type"] = typ.String()
	}
	return fields
}
