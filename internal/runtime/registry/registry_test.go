package registry

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventdispatch/internal/runtime/errors"
)

type OrderCreated struct {
	OrderID string `json:"orderId"`
	Amount  int    `json:"amount"`
}

type OrderCancelled struct {
	OrderID string `json:"orderId"`
}

func newTestRegistry() *Registry {
	return New("kafka", "events", "orders-svc")
}

func orderEvent(data string) cloudevents.Event {
	return cloudevents.Event{
		SpecVersion: cloudevents.SpecVersion,
		ID:          "1",
		Source:      "svc",
		Type:        "OrderCreated",
		Data:        json.RawMessage(data),
	}
}

func TestRegisterMetadataFillsDefaults(t *testing.T) {
	r := newTestRegistry()

	md, err := RegisterMetadataFor[OrderCreated](r, cloudevents.Attributes{Topic: "orders"})
	require.NoError(t, err)

	assert.Equal(t, cloudevents.Metadata{PubSubName: "kafka", Topic: "orders", Type: "OrderCreated", Source: "orders-svc"}, md)
}

func TestRegisterMetadataPointerUsesElementName(t *testing.T) {
	r := newTestRegistry()

	md, err := RegisterMetadataFor[*OrderCreated](r, cloudevents.Attributes{})
	require.NoError(t, err)
	assert.Equal(t, "OrderCreated", md.Type)
	assert.Equal(t, "events", md.Topic)
}

func TestRegisterMetadataIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	attrs := cloudevents.Attributes{Topic: "orders", Source: "svc"}

	first, err := RegisterMetadataFor[OrderCreated](r, attrs)
	require.NoError(t, err)
	second, err := RegisterMetadataFor[OrderCreated](r, attrs)
	require.NoError(t, err)
	third, err := RegisterMetadataFor[OrderCreated](r, cloudevents.Attributes{Topic: "other"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, third)
	assert.Len(t, r.metadata, 1)
}

func TestRegisterMetadataRequiresTopic(t *testing.T) {
	r := New("kafka", "", "svc")
	_, err := RegisterMetadataFor[OrderCreated](r, cloudevents.Attributes{})
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)

	_, err = r.RegisterMetadata(nil, cloudevents.Attributes{})
	assert.Error(t, err)
}

func TestRegisterHandlerFirstRegistrationWins(t *testing.T) {
	r := newTestRegistry()
	md := cloudevents.Metadata{PubSubName: "kafka", Topic: "orders", Type: "OrderCreated", Source: "svc"}

	require.NoError(t, RegisterHandler[OrderCreated](r, md))
	require.NoError(t, RegisterHandler[OrderCancelled](r, md))

	assert.Len(t, r.order, 1)
	assert.Equal(t, reflect.TypeFor[OrderCreated](), r.registrations[md].dataType)
}

func TestRegisterHandlerRejectsIncompleteMetadata(t *testing.T) {
	r := newTestRegistry()
	err := RegisterHandler[OrderCreated](r, cloudevents.Metadata{PubSubName: "kafka"})
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)
}

func TestBuildAndInvoke(t *testing.T) {
	r := newTestRegistry()
	md, err := Register[OrderCreated](r, cloudevents.Attributes{Topic: "orders", Source: "svc"})
	require.NoError(t, err)

	var received cloudevents.TypedEvent[OrderCreated]
	resolver := NewStaticResolver()
	Provide[OrderCreated](resolver, HandlerFunc[OrderCreated](func(_ context.Context, evt cloudevents.TypedEvent[OrderCreated]) error {
		received = evt
		return nil
	}))

	_, ok := r.TryGetHandler(md)
	assert.False(t, ok, "lookups before build must miss")

	require.NoError(t, r.Build(resolver))
	assert.True(t, r.Built())

	binding, ok := r.TryGetHandler(md)
	require.True(t, ok)
	assert.Equal(t, md, binding.Metadata)
	assert.Equal(t, reflect.TypeFor[OrderCreated](), binding.DataType)

	require.NoError(t, binding.Invoke(context.Background(), orderEvent(`{"orderId":"o-1","amount":42}`)))
	assert.Equal(t, OrderCreated{OrderID: "o-1", Amount: 42}, received.Data)
	assert.Equal(t, "1", received.ID)
}

func TestInvokePropagatesHandlerError(t *testing.T) {
	r := newTestRegistry()
	md, err := Register[OrderCreated](r, cloudevents.Attributes{Topic: "orders", Source: "svc"})
	require.NoError(t, err)

	boom := errors.New("boom")
	resolver := NewStaticResolver()
	Provide[OrderCreated](resolver, HandlerFunc[OrderCreated](func(context.Context, cloudevents.TypedEvent[OrderCreated]) error {
		return boom
	}))
	require.NoError(t, r.Build(resolver))

	binding, ok := r.TryGetHandler(md)
	require.True(t, ok)
	assert.ErrorIs(t, binding.Invoke(context.Background(), orderEvent(`{}`)), boom)
}

func TestInvokeUndecodableDataIsRedeliverable(t *testing.T) {
	r := newTestRegistry()
	md, err := Register[OrderCreated](r, cloudevents.Attributes{Topic: "orders", Source: "svc"})
	require.NoError(t, err)

	called := false
	resolver := NewStaticResolver()
	Provide[OrderCreated](resolver, HandlerFunc[OrderCreated](func(context.Context, cloudevents.TypedEvent[OrderCreated]) error {
		called = true
		return nil
	}))
	require.NoError(t, r.Build(resolver))

	binding, _ := r.TryGetHandler(md)
	err = binding.Invoke(context.Background(), orderEvent(`{"amount":"not-a-number"}`))
	assert.ErrorIs(t, err, errspkg.ErrDataDecode)
	assert.NotErrorIs(t, err, cloudevents.ErrUnprocessable)
	assert.Equal(t, cloudevents.ResultRedeliver, cloudevents.ClassifyError(err))
	assert.False(t, called)
}

func TestInvokeWithoutDataPassesZeroValue(t *testing.T) {
	r := newTestRegistry()
	md, err := Register[*OrderCreated](r, cloudevents.Attributes{Topic: "orders", Source: "svc"})
	require.NoError(t, err)

	var got *OrderCreated
	resolver := NewStaticResolver()
	Provide[*OrderCreated](resolver, HandlerFunc[*OrderCreated](func(_ context.Context, evt cloudevents.TypedEvent[*OrderCreated]) error {
		got = evt.Data
		return nil
	}))
	require.NoError(t, r.Build(resolver))

	binding, _ := r.TryGetHandler(md)
	require.NoError(t, binding.Invoke(context.Background(), orderEvent("")))
	assert.Nil(t, got)
}

func TestProtoHandlerDecodesJSONAndBinary(t *testing.T) {
	r := newTestRegistry()
	md, err := RegisterProto[*wrapperspb.StringValue](r, cloudevents.Attributes{Topic: "names", Type: "NameChanged", Source: "svc"})
	require.NoError(t, err)

	var got []string
	resolver := NewStaticResolver()
	Provide[*wrapperspb.StringValue](resolver, HandlerFunc[*wrapperspb.StringValue](func(_ context.Context, evt cloudevents.TypedEvent[*wrapperspb.StringValue]) error {
		got = append(got, evt.Data.GetValue())
		return nil
	}))
	require.NoError(t, r.Build(resolver))

	binding, ok := r.TryGetHandler(md)
	require.True(t, ok)

	require.NoError(t, binding.Invoke(context.Background(), cloudevents.Event{Type: "NameChanged", Data: json.RawMessage(`"alice"`)}))

	raw, err := proto.Marshal(wrapperspb.String("bob"))
	require.NoError(t, err)
	require.NoError(t, binding.Invoke(context.Background(), cloudevents.Event{Type: "NameChanged", DataBase64: raw}))

	err = binding.Invoke(context.Background(), cloudevents.Event{Type: "NameChanged", Data: json.RawMessage(`{"unexpected":`)})
	assert.ErrorIs(t, err, errspkg.ErrDataDecode)
	assert.Equal(t, cloudevents.ResultRedeliver, cloudevents.ClassifyError(err))

	assert.Equal(t, []string{"alice", "bob"}, got)
}

func TestProtoHandlerIgnoresUnknownFields(t *testing.T) {
	r := newTestRegistry()
	md, err := RegisterProto[*structpb.Struct](r, cloudevents.Attributes{Topic: "docs", Type: "Doc", Source: "svc"})
	require.NoError(t, err)

	var fields map[string]any
	resolver := NewStaticResolver()
	Provide[*structpb.Struct](resolver, HandlerFunc[*structpb.Struct](func(_ context.Context, evt cloudevents.TypedEvent[*structpb.Struct]) error {
		fields = evt.Data.AsMap()
		return nil
	}))
	require.NoError(t, r.Build(resolver))

	binding, _ := r.TryGetHandler(md)
	require.NoError(t, binding.Invoke(context.Background(), cloudevents.Event{Data: json.RawMessage(`{"a":1}`)}))
	assert.Equal(t, map[string]any{"a": float64(1)}, fields)
}

func TestBuildFreezesRegistry(t *testing.T) {
	r := newTestRegistry()
	md, err := Register[OrderCreated](r, cloudevents.Attributes{Topic: "orders"})
	require.NoError(t, err)

	resolver := NewStaticResolver()
	Provide[OrderCreated](resolver, HandlerFunc[OrderCreated](func(context.Context, cloudevents.TypedEvent[OrderCreated]) error { return nil }))
	require.NoError(t, r.Build(resolver))

	assert.ErrorIs(t, r.Build(resolver), errspkg.ErrRegistryBuilt)
	assert.ErrorIs(t, RegisterHandler[OrderCancelled](r, cloudevents.Metadata{PubSubName: "kafka", Topic: "orders", Type: "OrderCancelled"}), errspkg.ErrRegistryFrozen)

	_, err = RegisterMetadataFor[OrderCancelled](r, cloudevents.Attributes{})
	assert.ErrorIs(t, err, errspkg.ErrRegistryFrozen)

	again, err := RegisterMetadataFor[OrderCreated](r, cloudevents.Attributes{})
	require.NoError(t, err)
	assert.Equal(t, md, again)
}

func TestBuildReportsResolutionFailures(t *testing.T) {
	r := newTestRegistry()
	_, err := Register[OrderCreated](r, cloudevents.Attributes{Topic: "orders"})
	require.NoError(t, err)
	_, err = Register[OrderCancelled](r, cloudevents.Attributes{Topic: "orders"})
	require.NoError(t, err)

	wrongType := ResolverFunc(func(md cloudevents.Metadata, dataType reflect.Type) (any, error) {
		if dataType == reflect.TypeFor[OrderCreated]() {
			return HandlerFunc[OrderCancelled](func(context.Context, cloudevents.TypedEvent[OrderCancelled]) error { return nil }), nil
		}
		return nil, nil
	})

	err = r.Build(wrongType)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not implement Handler")
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
	assert.False(t, r.Built())

	assert.ErrorIs(t, r.Build(nil), errspkg.ErrResolverRequired)
}

func TestStaticResolverMissingHandler(t *testing.T) {
	r := newTestRegistry()
	_, err := Register[OrderCreated](r, cloudevents.Attributes{Topic: "orders"})
	require.NoError(t, err)

	err = r.Build(NewStaticResolver())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler provided")
}

func TestSubscribedTopics(t *testing.T) {
	r := newTestRegistry()
	noop := func(context.Context, cloudevents.TypedEvent[OrderCreated]) error { return nil }

	require.NoError(t, RegisterHandler[OrderCreated](r, cloudevents.Metadata{PubSubName: "kafka", Topic: "orders", Type: "A"}))
	require.NoError(t, RegisterHandler[OrderCreated](r, cloudevents.Metadata{PubSubName: "kafka", Topic: "orders", Type: "B"}))
	require.NoError(t, RegisterHandler[OrderCreated](r, cloudevents.Metadata{PubSubName: "kafka", Topic: "billing", Type: "A"}))
	require.NoError(t, RegisterHandler[OrderCreated](r, cloudevents.Metadata{PubSubName: "nats", Topic: "audit", Type: "A"}))

	assert.Empty(t, r.SubscribedTopics("kafka"))

	resolver := NewStaticResolver()
	Provide[OrderCreated](resolver, HandlerFunc[OrderCreated](noop))
	require.NoError(t, r.Build(resolver))

	assert.Equal(t, []string{"billing", "orders"}, r.SubscribedTopics("kafka"))
	assert.Equal(t, []string{"audit"}, r.SubscribedTopics("nats"))
	assert.Empty(t, r.SubscribedTopics("rabbitmq"))
}

func TestGetMetadata(t *testing.T) {
	r := newTestRegistry()
	md, err := RegisterMetadataFor[OrderCreated](r, cloudevents.Attributes{Topic: "orders"})
	require.NoError(t, err)

	got, ok := MetadataFor[OrderCreated](r)
	assert.True(t, ok)
	assert.Equal(t, md, got)

	_, ok = MetadataFor[OrderCancelled](r)
	assert.False(t, ok)
}

func TestTryGetHandlerConcurrentReaders(t *testing.T) {
	r := newTestRegistry()
	md, err := Register[OrderCreated](r, cloudevents.Attributes{Topic: "orders"})
	require.NoError(t, err)

	resolver := NewStaticResolver()
	Provide[OrderCreated](resolver, HandlerFunc[OrderCreated](func(context.Context, cloudevents.TypedEvent[OrderCreated]) error { return nil }))
	require.NoError(t, r.Build(resolver))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, ok := r.TryGetHandler(md)
				assert.True(t, ok)
				_, ok = r.TryGetHandler(cloudevents.Metadata{Type: "Unknown"})
				assert.False(t, ok)
			}
		}()
	}
	wg.Wait()
}

func TestDebug(t *testing.T) {
	r := newTestRegistry()
	_, err := Register[OrderCreated](r, cloudevents.Attributes{Topic: "orders"})
	require.NoError(t, err)

	out := r.Debug()
	assert.Contains(t, out, "metadata (1):")
	assert.Contains(t, out, "registry.OrderCreated => pubsub=kafka topic=orders type=OrderCreated source=orders-svc")
	assert.Contains(t, out, "built=false")

	resolver := NewStaticResolver()
	Provide[OrderCreated](resolver, HandlerFunc[OrderCreated](func(context.Context, cloudevents.TypedEvent[OrderCreated]) error { return nil }))
	require.NoError(t, r.Build(resolver))
	assert.Contains(t, r.Debug(), "handled by registry.HandlerFunc[")
}

func TestBindingsInRegistrationOrder(t *testing.T) {
	r := newTestRegistry()
	created, err := Register[OrderCreated](r, cloudevents.Attributes{Topic: "orders"})
	require.NoError(t, err)
	cancelled, err := Register[OrderCancelled](r, cloudevents.Attributes{Topic: "orders"})
	require.NoError(t, err)

	assert.Nil(t, r.Bindings())

	resolver := NewStaticResolver()
	Provide[OrderCreated](resolver, HandlerFunc[OrderCreated](func(context.Context, cloudevents.TypedEvent[OrderCreated]) error { return nil }))
	Provide[OrderCancelled](resolver, HandlerFunc[OrderCancelled](func(context.Context, cloudevents.TypedEvent[OrderCancelled]) error { return nil }))
	require.NoError(t, r.Build(resolver))

	bindings := r.Bindings()
	require.Len(t, bindings, 2)
	assert.Equal(t, created, bindings[0].Metadata)
	assert.Equal(t, cancelled, bindings[1].Metadata)
	assert.Equal(t, reflect.TypeFor[OrderCancelled](), bindings[1].DataType)
}
