package cloudevents

import (
	"errors"
	"fmt"
)

// Handler return errors that change what happens after a failed invocation.
// Any other non-nil error requests a redelivery of the original message.
var (
	// ErrSkip acknowledges the message without redelivery. Use it for events
	// that are intentionally ignored, for example duplicates.
	ErrSkip = errors.New("eventdispatch: skip message")

	// ErrDeadLetter moves the message to the dead letter topic without
	// further redelivery.
	ErrDeadLetter = errors.New("eventdispatch: send to dead letter topic")

	// ErrUnprocessable marks the event as permanently invalid. It is handled
	// like ErrDeadLetter.
	ErrUnprocessable = errors.New("eventdispatch: unprocessable message")
)

// DeadLetterError carries a reason alongside ErrDeadLetter.
type DeadLetterError struct {
	Reason string
	Cause  error
}

// ErrDeadLetterWithReason creates a DeadLetterError with a specific reason.
//
// Example:
//
//	return cloudevents.ErrDeadLetterWithReason("payment already refunded", nil)
func ErrDeadLetterWithReason(reason string, cause error) *DeadLetterError {
	return &DeadLetterError{
		Reason: reason,
		Cause:  cause,
	}
}

func (e *DeadLetterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("eventdispatch: dead letter (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("eventdispatch: dead letter (%s)", e.Reason)
}

func (e *DeadLetterError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for DeadLetterError.
func (e *DeadLetterError) Is(target error) bool {
	return target == ErrDeadLetter
}

// DecodeError reports a payload that does not match the envelope schema.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("eventdispatch: decode cloudevent: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// HandlerResult represents what the dispatcher does after an invocation.
type HandlerResult int

const (
	// ResultAck indicates successful processing.
	ResultAck HandlerResult = iota

	// ResultSkip indicates the handler chose to drop the message.
	ResultSkip

	// ResultRedeliver indicates the original message should be republished.
	ResultRedeliver

	// ResultDeadLetter indicates the message should go to the dead letter topic.
	ResultDeadLetter
)

func (r HandlerResult) String() string {
	switch r {
	case ResultAck:
		return "ack"
	case ResultSkip:
		return "skip"
	case ResultRedeliver:
		return "redeliver"
	case ResultDeadLetter:
		return "dead_letter"
	default:
		return fmt.Sprintf("HandlerResult(%d)", int(r))
	}
}

// ClassifyError maps a handler error to the follow-up action.
func ClassifyError(err error) HandlerResult {
	switch {
	case err == nil:
		return ResultAck
	case errors.Is(err, ErrSkip):
		return ResultSkip
	case errors.Is(err, ErrDeadLetter), errors.Is(err, ErrUnprocessable):
		return ResultDeadLetter
	default:
		return ResultRedeliver
	}
}
