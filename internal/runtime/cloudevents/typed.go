package cloudevents

import (
	"time"
)

// TypedEvent is the projection of an Event whose data has been decoded into T.
type TypedEvent[T any] struct {
	ID              string
	Source          string
	Type            string
	Time            time.Time
	DataContentType *string
	DataSchema      *string
	Subject         *string
	Data            T
	Extensions      map[string]string
}

// NewTypedEvent copies the attributes of evt and attaches the decoded data.
func NewTypedEvent[T any](evt Event, data T) TypedEvent[T] {
	return TypedEvent[T]{
		ID:              evt.ID,
		Source:          evt.Source,
		Type:            evt.Type,
		Time:            evt.Time,
		DataContentType: evt.DataContentType,
		DataSchema:      evt.DataSchema,
		Subject:         evt.Subject,
		Data:            data,
		Extensions:      evt.Extensions,
	}
}

// Extension returns the value of an extension attribute.
func (e TypedEvent[T]) Extension(key string) (string, bool) {
	if e.Extensions == nil {
		return "", false
	}
	v, ok := e.Extensions[key]
	return v, ok
}

// Envelope converts the typed event back into an Event without data. It is
// used to carry tracing context onto follow-up events.
func (e TypedEvent[T]) Envelope() Event {
	return Event{
		SpecVersion:     SpecVersion,
		ID:              e.ID,
		Source:          e.Source,
		Type:            e.Type,
		Time:            e.Time,
		DataContentType: e.DataContentType,
		DataSchema:      e.DataSchema,
		Subject:         e.Subject,
		Extensions:      e.Extensions,
	}
}
