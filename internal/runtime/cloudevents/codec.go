package cloudevents

import (
	"fmt"

	jsoncodec "github.com/drblury/eventdispatch/internal/runtime/jsoncodec"
)

// Decode parses a structured-mode payload. A missing specversion is
// tolerated; id, source and type are required. Errors are *DecodeError.
func Decode(payload []byte) (Event, error) {
	var evt Event
	if err := jsoncodec.Unmarshal(payload, &evt); err != nil {
		return Event{}, &DecodeError{Err: err}
	}
	if evt.SpecVersion == "" {
		evt.SpecVersion = SpecVersion
	}
	if err := evt.Validate(); err != nil {
		return Event{}, &DecodeError{Err: err}
	}
	return evt, nil
}

// Encode validates evt and renders it in structured mode.
func Encode(evt Event) ([]byte, error) {
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid CloudEvent: %w", err)
	}
	return jsoncodec.Marshal(evt)
}
