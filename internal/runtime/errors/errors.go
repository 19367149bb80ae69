package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired      = sterrors.New("eventdispatch: configuration is required")
	ErrLoggerRequired      = sterrors.New("eventdispatch: logger is required")
	ErrRegistryRequired    = sterrors.New("eventdispatch: registry is required")
	ErrHandlerRequired     = sterrors.New("eventdispatch: handler is required")
	ErrPublisherRequired   = sterrors.New("eventdispatch: publisher is required")
	ErrSubscriberRequired  = sterrors.New("eventdispatch: subscriber is required")
	ErrTopicRequired       = sterrors.New("eventdispatch: topic is required")
	ErrResolverRequired    = sterrors.New("eventdispatch: resolver is required")
	ErrRegistryFrozen      = sterrors.New("eventdispatch: registry is frozen")
	ErrRegistryBuilt       = sterrors.New("eventdispatch: registry already built")
	ErrRegistryNotBuilt    = sterrors.New("eventdispatch: registry has not been built")
	ErrMetadataNotFound    = sterrors.New("eventdispatch: no metadata registered for type")
	ErrPoolClosed          = sterrors.New("eventdispatch: worker pool is closed")
	ErrSubmitTimeout       = sterrors.New("eventdispatch: worker pool submit timed out")
	ErrEventPayloadMissing = sterrors.New("eventdispatch: event payload is required")
	ErrMessageTooLarge     = sterrors.New("eventdispatch: message exceeds the transport size limit")
	ErrServiceStarted      = sterrors.New("eventdispatch: service already started")
	ErrServiceRequired     = sterrors.New("eventdispatch: service is required")
	ErrDataDecode          = sterrors.New("eventdispatch: cannot decode event data")
	ErrRedeliveryExhausted = sterrors.New("eventdispatch: redelivery limit reached, message dead-lettered")
)

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("eventdispatch: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
