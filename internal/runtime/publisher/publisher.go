// Package publisher emits CloudEvents for registered data types onto the
// transport, carrying the current trace context as event extensions.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventdispatch/internal/runtime/errors"
	headerspkg "github.com/drblury/eventdispatch/internal/runtime/headers"
	idspkg "github.com/drblury/eventdispatch/internal/runtime/ids"
	jsoncodec "github.com/drblury/eventdispatch/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventdispatch/internal/runtime/logging"
)

const (
	contentTypeJSON     = "application/json"
	contentTypeProtobuf = "application/protobuf"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// MetadataSource looks up the routing metadata of a data type.
// *registry.Registry implements it.
type MetadataSource interface {
	GetMetadata(dataType reflect.Type) (cloudevents.Metadata, bool)
}

// Tracer opens a producer span and writes its context into the event.
// *telemetry.Telemetry implements it.
type Tracer interface {
	StartPublish(ctx context.Context, pubsubName, topic string, evt *cloudevents.Event) (context.Context, func(err error))
}

type nopTracer struct{}

func (nopTracer) StartPublish(ctx context.Context, _, _ string, _ *cloudevents.Event) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// Publisher publishes CloudEvents through a Watermill publisher.
type Publisher struct {
	publisher message.Publisher
	metadata  MetadataSource
	tracer    Tracer
	logger    loggingpkg.ServiceLogger
	maxSize   int64
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithTracer sets the producer span hook.
func WithTracer(t Tracer) Option {
	return func(p *Publisher) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l loggingpkg.ServiceLogger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMaxMessageSize rejects encoded events larger than n bytes before they
// reach the broker. Zero disables the check.
func WithMaxMessageSize(n int64) Option {
	return func(p *Publisher) { p.maxSize = n }
}

// New creates a Publisher.
func New(pub message.Publisher, metadata MetadataSource, opts ...Option) (*Publisher, error) {
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if metadata == nil {
		return nil, errspkg.ErrRegistryRequired
	}

	p := &Publisher{
		publisher: pub,
		metadata:  metadata,
		tracer:    nopTracer{},
		logger:    loggingpkg.NewNopServiceLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// EventOption adjusts an outgoing event before it is published.
type EventOption func(*eventOptions)

type eventOptions struct {
	id          string
	at          time.Time
	subject     *string
	extensions  map[string]string
	parent      *cloudevents.Event
	binaryProto bool
}

// WithID overrides the generated ULID.
func WithID(id string) EventOption {
	return func(o *eventOptions) { o.id = id }
}

// WithTime overrides the occurrence time.
func WithTime(t time.Time) EventOption {
	return func(o *eventOptions) { o.at = t }
}

// WithSubject sets the subject attribute.
func WithSubject(subject string) EventOption {
	return func(o *eventOptions) { o.subject = &subject }
}

// WithExtension adds an extension attribute. Reserved names are ignored.
func WithExtension(key, value string) EventOption {
	return func(o *eventOptions) {
		if o.extensions == nil {
			o.extensions = make(map[string]string)
		}
		o.extensions[key] = value
	}
}

// CausedBy copies the correlation and trace extensions of parent onto the new
// event. A recording tracer replaces the trace extensions with its own span.
func CausedBy(parent cloudevents.Event) EventOption {
	return func(o *eventOptions) { o.parent = &parent }
}

// AsBinaryProto encodes proto data as binary protobuf in data_base64
// instead of protojson in data.
func AsBinaryProto() EventOption {
	return func(o *eventOptions) { o.binaryProto = true }
}

// Publish builds a CloudEvent for data using the metadata registered for T
// and publishes it on the metadata topic.
func Publish[T any](ctx context.Context, p *Publisher, data T, opts ...EventOption) (cloudevents.Event, error) {
	md, ok := p.metadata.GetMetadata(reflect.TypeFor[T]())
	if !ok {
		return cloudevents.Event{}, fmt.Errorf("%w: %s", errspkg.ErrMetadataNotFound, reflect.TypeFor[T]())
	}
	return p.PublishTo(ctx, md, data, opts...)
}

// PublishTo publishes data with explicit routing metadata.
func (p *Publisher) PublishTo(ctx context.Context, md cloudevents.Metadata, data any, opts ...EventOption) (cloudevents.Event, error) {
	if md.Topic == "" {
		return cloudevents.Event{}, errspkg.ErrTopicRequired
	}

	var o eventOptions
	for _, opt := range opts {
		opt(&o)
	}

	evt, err := newEvent(md, data, o)
	if err != nil {
		return cloudevents.Event{}, err
	}
	if err := p.PublishEvent(ctx, md.PubSubName, md.Topic, &evt); err != nil {
		return cloudevents.Event{}, err
	}
	return evt, nil
}

// PublishEvent publishes a prepared event on topic. Trace extensions are
// written into evt.
func (p *Publisher) PublishEvent(ctx context.Context, pubsubName, topic string, evt *cloudevents.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	ctx, end := p.tracer.StartPublish(ctx, pubsubName, topic, evt)

	payload, err := cloudevents.Encode(*evt)
	if err != nil {
		end(err)
		return err
	}
	if p.maxSize > 0 && int64(len(payload)) > p.maxSize {
		err := fmt.Errorf("%w: %d > %d bytes", errspkg.ErrMessageTooLarge, len(payload), p.maxSize)
		end(err)
		return err
	}

	msg := message.NewMessage(evt.ID, payload)
	if correlationID := cloudevents.CorrelationID(*evt); correlationID != "" {
		msg.Metadata.Set(headerspkg.CorrelationID, correlationID)
	}
	if evt.Subject != nil && *evt.Subject != "" {
		msg.Metadata.Set(headerspkg.PartitionKey, *evt.Subject)
	}
	msg.SetContext(ctx)

	err = p.publisher.Publish(topic, msg)
	end(err)
	if err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", evt.Type, topic, err)
	}

	p.logger.Trace("Event published", loggingpkg.LogFields{
		"pubsub_name": pubsubName,
		"topic":       topic,
		"event_id":    evt.ID,
		"event_type":  evt.Type,
	})
	return nil
}

// Close closes the underlying transport publisher.
func (p *Publisher) Close() error {
	return p.publisher.Close()
}

func newEvent(md cloudevents.Metadata, data any, o eventOptions) (cloudevents.Event, error) {
	evt, err := cloudevents.New(md.Type, md.Source, nil)
	if err != nil {
		return cloudevents.Event{}, err
	}
	if o.id != "" {
		evt.ID = o.id
	}
	if evt.ID == "" {
		evt.ID = idspkg.CreateULID()
	}
	if !o.at.IsZero() {
		evt.Time = o.at.UTC()
	}
	evt.Subject = o.subject

	if err := setData(&evt, data, o.binaryProto); err != nil {
		return cloudevents.Event{}, err
	}

	if o.parent != nil {
		cloudevents.CopyTracingContext(*o.parent, &evt)
	}
	for k, v := range o.extensions {
		cloudevents.SetExtension(&evt, k, v)
	}
	return evt, nil
}

func setData(evt *cloudevents.Event, data any, binaryProto bool) error {
	if data == nil {
		return nil
	}

	contentType := contentTypeJSON
	if msg, ok := data.(proto.Message); ok {
		if binaryProto {
			raw, err := proto.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to marshal event payload: %w", err)
			}
			evt.DataBase64 = raw
			contentType = contentTypeProtobuf
			evt.DataContentType = &contentType
			return nil
		}
		raw, err := protoJSONMarshalOptions.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		evt.Data = json.RawMessage(raw)
		evt.DataContentType = &contentType
		return nil
	}

	raw, err := jsoncodec.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	evt.Data = raw
	evt.DataContentType = &contentType
	return nil
}
