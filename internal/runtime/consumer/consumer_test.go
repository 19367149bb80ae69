package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	"github.com/drblury/eventdispatch/internal/runtime/dispatch"
	errspkg "github.com/drblury/eventdispatch/internal/runtime/errors"
	headerspkg "github.com/drblury/eventdispatch/internal/runtime/headers"
	"github.com/drblury/eventdispatch/internal/runtime/redelivery"
	"github.com/drblury/eventdispatch/internal/runtime/registry"
	"github.com/drblury/eventdispatch/internal/runtime/workers"
)

type OrderCreated struct {
	OrderID string `json:"order_id"`
}

func buildRegistry(t *testing.T, handler registry.HandlerFunc[OrderCreated]) *registry.Registry {
	t.Helper()
	reg := registry.New("channel", "orders", "svc")
	_, err := registry.Register[OrderCreated](reg, cloudevents.Attributes{})
	require.NoError(t, err)

	resolver := registry.NewStaticResolver()
	registry.Provide[OrderCreated](resolver, handler)
	require.NoError(t, reg.Build(resolver))
	return reg
}

func newPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func newOrderMessage(t *testing.T, orderID string) (*message.Message, cloudevents.Event) {
	t.Helper()
	evt, err := cloudevents.New("OrderCreated", "svc", OrderCreated{OrderID: orderID})
	require.NoError(t, err)
	payload, err := cloudevents.Encode(evt)
	require.NoError(t, err)
	return message.NewMessage(watermill.NewUUID(), payload), evt
}

func runConsumer(t *testing.T, c *Consumer) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	return func() error {
		stop()
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			return errors.New("consumer did not stop")
		}
	}
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
		return ""
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, registry.New("channel", "orders", "svc"), Config{})
	assert.ErrorIs(t, err, errspkg.ErrSubscriberRequired)

	_, err = New(newPubSub(t), nil, Config{})
	assert.ErrorIs(t, err, errspkg.ErrRegistryRequired)
}

func TestConsumerDispatchesToHandler(t *testing.T) {
	ps := newPubSub(t)
	handled := make(chan string, 2)
	reg := buildRegistry(t, func(_ context.Context, evt cloudevents.TypedEvent[OrderCreated]) error {
		handled <- evt.Data.OrderID
		return nil
	})

	pool := workers.New(workers.Config{Workers: 2, SubmitTimeout: time.Second}, nil)
	defer pool.Close()

	c, err := New(ps, reg, Config{PubSubName: "channel"}, WithPool(pool))
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, c.Topics())

	stop := runConsumer(t, c)

	first, _ := newOrderMessage(t, "o-1")
	second, _ := newOrderMessage(t, "o-2")
	require.NoError(t, ps.Publish("orders", first, second))

	got := []string{waitFor(t, handled), waitFor(t, handled)}
	assert.ElementsMatch(t, []string{"o-1", "o-2"}, got)
	require.NoError(t, stop())
}

func TestConsumerRedeliversFailedMessages(t *testing.T) {
	ps := newPubSub(t)
	var attempts atomic.Int32
	handled := make(chan string, 2)
	reg := buildRegistry(t, func(_ context.Context, evt cloudevents.TypedEvent[OrderCreated]) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		handled <- evt.ID
		return nil
	})

	producer, err := redelivery.NewProducer(ps, redelivery.Config{MaxRedeliveries: 3}, nil, nil)
	require.NoError(t, err)

	c, err := New(ps, reg, Config{PubSubName: "channel"}, WithRedeliverer(producer))
	require.NoError(t, err)
	stop := runConsumer(t, c)

	msg, evt := newOrderMessage(t, "o-1")
	require.NoError(t, ps.Publish("orders", msg))

	assert.Equal(t, evt.ID, waitFor(t, handled))
	assert.Equal(t, int32(2), attempts.Load())
	require.NoError(t, stop())
}

type refusingPool struct {
	calls atomic.Int32
}

func (p *refusingPool) Submit(context.Context, workers.Task) error {
	p.calls.Add(1)
	return errspkg.ErrSubmitTimeout
}

func TestConsumerStartsUnitWhenPoolRefuses(t *testing.T) {
	ps := newPubSub(t)
	handled := make(chan string, 1)
	reg := buildRegistry(t, func(_ context.Context, evt cloudevents.TypedEvent[OrderCreated]) error {
		handled <- evt.Data.OrderID
		return nil
	})

	pool := &refusingPool{}
	c, err := New(ps, reg, Config{PubSubName: "channel"}, WithPool(pool))
	require.NoError(t, err)
	stop := runConsumer(t, c)

	msg, _ := newOrderMessage(t, "o-9")
	require.NoError(t, ps.Publish("orders", msg))

	assert.Equal(t, "o-9", waitFor(t, handled))
	assert.Equal(t, int32(1), pool.calls.Load())
	require.NoError(t, stop())
}

func TestMessageAckedOnlyAfterCompletion(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan string, 1)
	reg := buildRegistry(t, func(_ context.Context, evt cloudevents.TypedEvent[OrderCreated]) error {
		entered <- evt.ID
		<-release
		return nil
	})

	c, err := New(newPubSub(t), reg, Config{PubSubName: "channel"})
	require.NoError(t, err)

	msg, evt := newOrderMessage(t, "o-1")
	raw := RawMessageFrom("orders", msg)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.handle(context.Background(), msg, raw, c.newChannel(raw.Topic, raw.Partition))
	}()

	assert.Equal(t, evt.ID, waitFor(t, entered))
	select {
	case <-msg.Acked():
		t.Fatal("message acked before the unit completed")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	select {
	case <-msg.Acked():
	default:
		t.Fatal("message not acked after completion")
	}
}

type recordingRedeliverer struct {
	reproduced atomic.Int32
}

func (r *recordingRedeliverer) Reproduce(context.Context, dispatch.RawMessage) error {
	r.reproduced.Add(1)
	return nil
}

func (r *recordingRedeliverer) DeadLetter(context.Context, dispatch.RawMessage, error) error {
	return nil
}

func TestShutdownWaitsForUnitAndAcksRedeliveredMessage(t *testing.T) {
	entered := make(chan string, 1)
	reg := buildRegistry(t, func(ctx context.Context, evt cloudevents.TypedEvent[OrderCreated]) error {
		entered <- evt.ID
		<-ctx.Done()
		return ctx.Err()
	})
	redeliverer := &recordingRedeliverer{}

	c, err := New(newPubSub(t), reg, Config{PubSubName: "channel"}, WithRedeliverer(redeliverer))
	require.NoError(t, err)

	msg, _ := newOrderMessage(t, "o-1")
	raw := RawMessageFrom("orders", msg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.handle(ctx, msg, raw, c.newChannel(raw.Topic, raw.Partition))
	}()

	waitFor(t, entered)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not return after shutdown")
	}

	assert.Equal(t, int32(1), redeliverer.reproduced.Load())
	select {
	case <-msg.Acked():
	default:
		t.Fatal("message not acked after the unit redelivered it")
	}
	select {
	case <-msg.Nacked():
		t.Fatal("message nacked although it was redelivered")
	default:
	}
}

// preloadedSubscriber hands out a buffered channel and never waits for acks,
// like a partitioned broker client serving several partitions at once.
type preloadedSubscriber struct {
	messages chan *message.Message
}

func newPreloadedSubscriber(t *testing.T, n int) *preloadedSubscriber {
	t.Helper()
	s := &preloadedSubscriber{messages: make(chan *message.Message, n)}
	for i := 0; i < n; i++ {
		msg, _ := newOrderMessage(t, fmt.Sprintf("o-%d", i))
		s.messages <- msg
	}
	return s
}

func (s *preloadedSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return s.messages, nil
}

func (s *preloadedSubscriber) Close() error { return nil }

func TestConsumerRunsUnitsOfOneTopicConcurrently(t *testing.T) {
	const n = 4
	release := make(chan struct{})
	entered := make(chan string, n)
	var running, maxRunning atomic.Int32
	reg := buildRegistry(t, func(_ context.Context, evt cloudevents.TypedEvent[OrderCreated]) error {
		now := running.Add(1)
		defer running.Add(-1)
		for {
			seen := maxRunning.Load()
			if now <= seen || maxRunning.CompareAndSwap(seen, now) {
				break
			}
		}
		entered <- evt.Data.OrderID
		<-release
		return nil
	})

	pool := workers.New(workers.Config{Workers: n, SubmitTimeout: time.Second}, nil)
	defer pool.Close()

	sub := newPreloadedSubscriber(t, n)
	c, err := New(sub, reg, Config{PubSubName: "channel"}, WithPool(pool))
	require.NoError(t, err)
	assert.Equal(t, pool.Capacity(), c.MaxInFlight())

	stop := runConsumer(t, c)
	for i := 0; i < n; i++ {
		waitFor(t, entered)
	}
	close(release)
	require.NoError(t, stop())

	assert.Equal(t, int32(n), maxRunning.Load())
}

func TestConsumerBoundsMessagesInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan string, 4)
	reg := buildRegistry(t, func(_ context.Context, evt cloudevents.TypedEvent[OrderCreated]) error {
		entered <- evt.Data.OrderID
		<-release
		return nil
	})

	sub := newPreloadedSubscriber(t, 4)
	c, err := New(sub, reg, Config{PubSubName: "channel", MaxInFlight: 2})
	require.NoError(t, err)

	stop := runConsumer(t, c)
	waitFor(t, entered)
	waitFor(t, entered)
	select {
	case id := <-entered:
		t.Fatalf("message %s dispatched beyond the in-flight bound", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	waitFor(t, entered)
	waitFor(t, entered)
	require.NoError(t, stop())
}

func TestMaxInFlightDefaults(t *testing.T) {
	reg := registry.New("channel", "orders", "svc")

	c, err := New(newPubSub(t), reg, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxInFlight, c.MaxInFlight())

	pool := workers.New(workers.Config{Workers: 3, QueueSize: 5}, nil)
	defer pool.Close()
	c, err = New(newPubSub(t), reg, Config{}, WithPool(pool))
	require.NoError(t, err)
	assert.Equal(t, 8, c.MaxInFlight())
}

func TestRunWithoutTopicsWaitsForCancel(t *testing.T) {
	reg := registry.New("channel", "orders", "svc")
	require.NoError(t, reg.Build(registry.NewStaticResolver()))

	c, err := New(newPubSub(t), reg, Config{PubSubName: "channel"})
	require.NoError(t, err)
	assert.Empty(t, c.Topics())

	stop := runConsumer(t, c)
	require.NoError(t, stop())
}

type failingSubscriber struct{}

func (failingSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, errors.New("no broker")
}

func (failingSubscriber) Close() error { return nil }

func TestRunReturnsSubscribeError(t *testing.T) {
	reg := buildRegistry(t, func(context.Context, cloudevents.TypedEvent[OrderCreated]) error { return nil })

	c, err := New(failingSubscriber{}, reg, Config{PubSubName: "channel"})
	require.NoError(t, err)

	err = c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe to orders")
}

func TestRawMessageFrom(t *testing.T) {
	msg := message.NewMessage("uuid-1", []byte("payload"))
	msg.Metadata.Set(headerspkg.RedeliveryCount, "2")

	raw := RawMessageFrom("orders", msg)
	assert.Equal(t, "uuid-1", raw.UUID)
	assert.Equal(t, "orders", raw.Topic)
	assert.Equal(t, int32(0), raw.Partition)
	assert.Equal(t, UnknownOffset, raw.Offset)
	assert.Equal(t, []byte("payload"), raw.Payload)
	assert.Equal(t, "2", raw.Metadata[headerspkg.RedeliveryCount])

	raw.Metadata["x"] = "y"
	assert.Empty(t, msg.Metadata.Get("x"))
}
