package dispatch

import "fmt"

// Outcome is the terminal state of a Unit.
type Outcome int32

const (
	// OutcomePending means the unit has not completed yet.
	OutcomePending Outcome = iota
	// OutcomeSucceeded means the handler accepted the event, or skipped it
	// explicitly with cloudevents.ErrSkip.
	OutcomeSucceeded
	// OutcomeFailedRedelivered means the handler failed and the original
	// message was handed to the Redeliverer.
	OutcomeFailedRedelivered
	// OutcomeDeadLettered means the handler rejected the event permanently
	// and the message was handed to the dead letter path.
	OutcomeDeadLettered
	// OutcomeSkipped means no handler is registered for the routing key.
	OutcomeSkipped
	// OutcomeFaulted means the payload could not be decoded or the unit hit
	// an unexpected fault outside the handler.
	OutcomeFaulted
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailedRedelivered:
		return "failed_redelivered"
	case OutcomeDeadLettered:
		return "dead_lettered"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("Outcome(%d)", int32(o))
	}
}

// Failed reports whether the outcome should be reported as an error status.
func (o Outcome) Failed() bool {
	return o == OutcomeFailedRedelivered || o == OutcomeDeadLettered || o == OutcomeFaulted
}
