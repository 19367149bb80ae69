package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	loggingpkg "github.com/drblury/eventdispatch/internal/runtime/logging"
	"github.com/drblury/eventdispatch/internal/runtime/registry"
)

type OrderCreated struct {
	OrderID string `json:"orderId"`
}

var ordersKey = cloudevents.Metadata{PubSubName: "kafka", Topic: "orders", Type: "OrderCreated", Source: "svc"}

const orderPayload = `{"specversion":"1.0","id":"1","source":"svc","type":"OrderCreated","data":{"orderId":"o-1"}}`

// newTestRegistry builds a registry with one OrderCreated handler on ordersKey.
func newTestRegistry(t *testing.T, handle func(context.Context, cloudevents.TypedEvent[OrderCreated]) error) *registry.Registry {
	t.Helper()
	r := registry.New("kafka", "orders", "svc")
	require.NoError(t, registry.RegisterHandler[OrderCreated](r, ordersKey))

	resolver := registry.NewStaticResolver()
	registry.Provide[OrderCreated](resolver, registry.HandlerFunc[OrderCreated](handle))
	require.NoError(t, r.Build(resolver))
	return r
}

func ordersChannel() *ChannelContext {
	return &ChannelContext{
		PubSubName:    "kafka",
		Topic:         "orders",
		Partition:     3,
		ConsumerGroup: "orders-group",
		ConsumerName:  "orders-consumer",
	}
}

func rawOrder(payload string) RawMessage {
	return RawMessage{
		UUID:      "msg-1",
		Topic:     "orders",
		Partition: 3,
		Offset:    42,
		Payload:   []byte(payload),
		Metadata:  map[string]string{"header": "value"},
	}
}

type fakeRedeliverer struct {
	mu          sync.Mutex
	reproduced  []RawMessage
	deadLetters []RawMessage
	causes      []error
	err         error
	ctxErrs     []error
}

func (f *fakeRedeliverer) Reproduce(ctx context.Context, msg RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reproduced = append(f.reproduced, msg)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.err
}

func (f *fakeRedeliverer) DeadLetter(ctx context.Context, msg RawMessage, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, msg)
	f.causes = append(f.causes, cause)
	return f.err
}

func (f *fakeRedeliverer) reproducedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reproduced)
}

type fakeTrace struct {
	recording     bool
	consumerName  string
	consumerGroup string
}

func (f *fakeTrace) IsRecording() bool { return f.recording }

func (f *fakeTrace) SetConsumer(name, group string) {
	f.consumerName = name
	f.consumerGroup = group
}

type recordingTelemetry struct {
	mu       sync.Mutex
	trace    *fakeTrace
	starts   int
	ends     []Status
	endTrace []TraceContext
	ended    atomic.Bool
}

func (r *recordingTelemetry) OnProcessingStart(ctx context.Context, _, _ string, _ cloudevents.Event) (context.Context, TraceContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	if r.trace == nil {
		return ctx, nil
	}
	return ctx, r.trace
}

func (r *recordingTelemetry) OnProcessingEnd(trace TraceContext, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, status)
	r.endTrace = append(r.endTrace, trace)
	r.ended.Store(true)
}

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	fields  loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (r *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{mu: r.mu, entries: r.entries, fields: merged}
}

func (r *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, logEntry{level: level, msg: msg, err: err, fields: merged})
}

func (r *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	r.record("debug", msg, nil, fields)
}

func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	r.record("info", msg, nil, fields)
}

func (r *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.record("error", msg, err, fields)
}

func (r *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	r.record("trace", msg, nil, fields)
}

func (r *recordingLogger) find(msg string) (logEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range *r.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}
