package cloudevents

// Extension attribute names written or read by the dispatcher.
const (
	// ExtTraceParent carries the W3C traceparent of the producing span.
	ExtTraceParent = "traceparent"

	// ExtTraceState carries the W3C tracestate of the producing span.
	ExtTraceState = "tracestate"

	// ExtCorrelationID is an optional correlation identifier copied from
	// inbound events onto events published while handling them.
	ExtCorrelationID = "correlationid"
)

// TraceParent returns the traceparent extension, if present.
func TraceParent(evt Event) string {
	v, _ := evt.Extension(ExtTraceParent)
	return v
}

// TraceState returns the tracestate extension, if present.
func TraceState(evt Event) string {
	v, _ := evt.Extension(ExtTraceState)
	return v
}

// SetExtension stores an extension attribute on evt in place. Reserved
// attribute names are ignored.
func SetExtension(evt *Event, key, value string) {
	if IsReserved(key) {
		return
	}
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]string)
	}
	evt.Extensions[key] = value
}

// CorrelationID returns the correlation ID for request tracing.
func CorrelationID(evt Event) string {
	v, _ := evt.Extension(ExtCorrelationID)
	return v
}

// CopyTracingContext copies trace and correlation extensions from src to dst.
func CopyTracingContext(src Event, dst *Event) {
	for _, key := range []string{ExtTraceParent, ExtTraceState, ExtCorrelationID} {
		if v, ok := src.Extension(key); ok && v != "" {
			SetExtension(dst, key, v)
		}
	}
}

// DeadLetterTopic returns the dead letter topic for a source topic.
// Convention: <topic>.dead
func DeadLetterTopic(topic string) string {
	return topic + ".dead"
}
