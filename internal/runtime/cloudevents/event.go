// Package cloudevents provides the CloudEvents v1.0 envelope used by the
// dispatcher, the routing metadata derived from it, and the typed projection
// handed to application handlers.
package cloudevents

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	idspkg "github.com/drblury/eventdispatch/internal/runtime/ids"
	jsoncodec "github.com/drblury/eventdispatch/internal/runtime/jsoncodec"
)

// SpecVersion is the CloudEvents specification version implemented.
const SpecVersion = "1.0"

// Event is a structured-mode CloudEvent. Data stays encoded until a handler
// binding decodes it into its concrete type.
// See https://github.com/cloudevents/spec/blob/v1.0/spec.md for specification details.
type Event struct {
	// SpecVersion is the version of the CloudEvents specification.
	SpecVersion string

	// ID identifies the event. Producers generate a ULID when it is empty.
	ID string

	// Source identifies the producer of the event.
	Source string

	// Type describes the logical kind of event, for example "OrderCreated".
	Type string

	// Time is the occurrence timestamp. The zero value means absent.
	Time time.Time

	// DataContentType describes the encoding of Data, e.g. "application/json".
	DataContentType *string

	// DataSchema identifies the schema Data adheres to.
	DataSchema *string

	// Subject describes the subject of the event in the context of the source.
	Subject *string

	// Data is the raw JSON value of the "data" attribute.
	Data json.RawMessage

	// DataBase64 holds the decoded bytes of the "data_base64" attribute.
	DataBase64 []byte

	// Extensions are the top-level attributes outside the reserved set.
	// Trace context travels here as "traceparent" and "tracestate".
	Extensions map[string]string
}

var reservedAttributes = map[string]struct{}{
	"specversion":     {},
	"id":              {},
	"source":          {},
	"type":            {},
	"time":            {},
	"datacontenttype": {},
	"dataschema":      {},
	"subject":         {},
	"data":            {},
	"data_base64":     {},
}

// IsReserved reports whether name is a CloudEvents context attribute that
// cannot be used as an extension.
func IsReserved(name string) bool {
	_, ok := reservedAttributes[name]
	return ok
}

// New creates an event with a generated ULID, the current time and data
// encoded as JSON.
func New(eventType, source string, data any) (Event, error) {
	evt := Event{
		SpecVersion: SpecVersion,
		ID:          idspkg.CreateULID(),
		Source:      source,
		Type:        eventType,
		Time:        time.Now().UTC(),
		Extensions:  make(map[string]string),
	}
	if data == nil {
		return evt, nil
	}
	raw, err := jsoncodec.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode event data: %w", err)
	}
	evt.Data = raw
	contentType := "application/json"
	evt.DataContentType = &contentType
	return evt, nil
}

// WithSubject sets the subject attribute and returns the event.
func (e Event) WithSubject(subject string) Event {
	e.Subject = &subject
	return e
}

// WithDataSchema sets the data schema and returns the event.
func (e Event) WithDataSchema(schema string) Event {
	e.DataSchema = &schema
	return e
}

// WithExtension sets an extension attribute on a copy of the event.
func (e Event) WithExtension(key, value string) Event {
	e = e.Clone()
	if e.Extensions == nil {
		e.Extensions = make(map[string]string)
	}
	e.Extensions[key] = value
	return e
}

// Extension returns the value of an extension attribute.
func (e Event) Extension(key string) (string, bool) {
	if e.Extensions == nil {
		return "", false
	}
	v, ok := e.Extensions[key]
	return v, ok
}

// Validate checks that the event has all required CloudEvents attributes.
func (e Event) Validate() error {
	if e.SpecVersion == "" {
		return fmt.Errorf("specversion is required")
	}
	if e.SpecVersion != SpecVersion {
		return fmt.Errorf("specversion must be %q, got %q", SpecVersion, e.SpecVersion)
	}
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.Source == "" {
		return fmt.Errorf("source is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	return nil
}

// Clone creates a deep copy of the event.
func (e Event) Clone() Event {
	cloned := e

	if e.DataContentType != nil {
		v := *e.DataContentType
		cloned.DataContentType = &v
	}
	if e.DataSchema != nil {
		v := *e.DataSchema
		cloned.DataSchema = &v
	}
	if e.Subject != nil {
		v := *e.Subject
		cloned.Subject = &v
	}
	if e.Data != nil {
		cloned.Data = append(json.RawMessage(nil), e.Data...)
	}
	if e.DataBase64 != nil {
		cloned.DataBase64 = append([]byte(nil), e.DataBase64...)
	}
	if e.Extensions != nil {
		cloned.Extensions = make(map[string]string, len(e.Extensions))
		for k, v := range e.Extensions {
			cloned.Extensions[k] = v
		}
	}

	return cloned
}

// MarshalJSON writes the structured-mode representation with extensions
// flattened into the top-level object.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 8+len(e.Extensions))

	for k, v := range e.Extensions {
		if IsReserved(k) {
			continue
		}
		m[k] = v
	}

	m["specversion"] = e.SpecVersion
	m["id"] = e.ID
	m["source"] = e.Source
	m["type"] = e.Type

	if !e.Time.IsZero() {
		m["time"] = e.Time.Format(time.RFC3339Nano)
	}
	if e.DataContentType != nil {
		m["datacontenttype"] = *e.DataContentType
	}
	if e.DataSchema != nil {
		m["dataschema"] = *e.DataSchema
	}
	if e.Subject != nil {
		m["subject"] = *e.Subject
	}
	if len(e.Data) > 0 {
		m["data"] = e.Data
	}
	if e.DataBase64 != nil {
		m["data_base64"] = base64.StdEncoding.EncodeToString(e.DataBase64)
	}

	return jsoncodec.Marshal(m)
}

// UnmarshalJSON reads the structured-mode representation. Unknown top-level
// attributes become extensions; they are never validated.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(data, &m); err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("event must be a JSON object")
	}

	*e = Event{}

	if err := unmarshalString(m, "specversion", &e.SpecVersion); err != nil {
		return err
	}
	if err := unmarshalString(m, "id", &e.ID); err != nil {
		return err
	}
	if err := unmarshalString(m, "source", &e.Source); err != nil {
		return err
	}
	if err := unmarshalString(m, "type", &e.Type); err != nil {
		return err
	}

	if raw, ok := m["time"]; ok && !isNull(raw) {
		var timeStr string
		if err := jsoncodec.Unmarshal(raw, &timeStr); err != nil {
			return fmt.Errorf("invalid time: %w", err)
		}
		t, err := ParseTime(timeStr)
		if err != nil {
			return err
		}
		e.Time = t
	}

	var err error
	if e.DataContentType, err = unmarshalOptional(m, "datacontenttype"); err != nil {
		return err
	}
	if e.DataSchema, err = unmarshalOptional(m, "dataschema"); err != nil {
		return err
	}
	if e.Subject, err = unmarshalOptional(m, "subject"); err != nil {
		return err
	}

	if raw, ok := m["data"]; ok && !isNull(raw) {
		e.Data = append(json.RawMessage(nil), raw...)
	}
	if raw, ok := m["data_base64"]; ok && !isNull(raw) {
		var encoded string
		if err := jsoncodec.Unmarshal(raw, &encoded); err != nil {
			return fmt.Errorf("invalid data_base64: %w", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("invalid data_base64: %w", err)
		}
		e.DataBase64 = decoded
	}

	e.Extensions = make(map[string]string)
	for k, raw := range m {
		if IsReserved(k) {
			continue
		}
		e.Extensions[k] = extensionValue(raw)
	}

	return nil
}

func unmarshalString(m map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := m[key]
	if !ok || isNull(raw) {
		return nil
	}
	if err := jsoncodec.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	return nil
}

func unmarshalOptional(m map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := m[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var v string
	if err := jsoncodec.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &v, nil
}

// extensionValue keeps string extensions as-is and stores any other JSON
// value as its literal text.
func extensionValue(raw json.RawMessage) string {
	if len(raw) > 0 && raw[0] == '"' {
		if s, err := strconv.Unquote(string(raw)); err == nil {
			return s
		}
		var s string
		if err := jsoncodec.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
