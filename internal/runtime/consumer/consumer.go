// Package consumer subscribes to every topic the registry handles and runs
// one dispatch unit per inbound message.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/drblury/eventdispatch/internal/runtime/dispatch"
	errspkg "github.com/drblury/eventdispatch/internal/runtime/errors"
	headerspkg "github.com/drblury/eventdispatch/internal/runtime/headers"
	loggingpkg "github.com/drblury/eventdispatch/internal/runtime/logging"
	"github.com/drblury/eventdispatch/internal/runtime/workers"
)

// UnknownOffset is reported for messages whose transport has no offsets.
const UnknownOffset int64 = -1

// DefaultMaxInFlight bounds in-flight messages per topic when neither the
// config nor the pool sets a bound.
const DefaultMaxInFlight = 16

// Registry is the part of the handler registry the consumer needs.
type Registry interface {
	dispatch.HandlerLookup
	SubscribedTopics(pubsubName string) []string
}

// Submitter schedules units. *workers.Pool implements it.
type Submitter interface {
	Submit(ctx context.Context, task workers.Task) error
}

// Config names the consumed channel.
type Config struct {
	PubSubName    string
	ConsumerGroup string
	ConsumerName  string
	// MaxInFlight bounds the messages of one topic that are dispatched but
	// not yet acknowledged. Zero uses the pool capacity.
	MaxInFlight int
}

type capacity interface {
	Capacity() int
}

// Consumer drives units from a Watermill subscriber.
type Consumer struct {
	subscriber message.Subscriber
	registry   Registry
	pool       Submitter
	cfg        Config

	redeliverer dispatch.Redeliverer
	telemetry   dispatch.Telemetry
	logger      loggingpkg.ServiceLogger
}

// Option customises a Consumer.
type Option func(*Consumer)

// WithPool runs units on pool. Without a pool each unit starts its own
// goroutine.
func WithPool(pool Submitter) Option {
	return func(c *Consumer) { c.pool = pool }
}

// WithRedeliverer sets the collaborator that republishes failed messages.
func WithRedeliverer(r dispatch.Redeliverer) Option {
	return func(c *Consumer) { c.redeliverer = r }
}

// WithTelemetry sets the processing hooks.
func WithTelemetry(t dispatch.Telemetry) Option {
	return func(c *Consumer) { c.telemetry = t }
}

// WithLogger sets the logger.
func WithLogger(l loggingpkg.ServiceLogger) Option {
	return func(c *Consumer) { c.logger = l }
}

// New creates a Consumer.
func New(subscriber message.Subscriber, registry Registry, cfg Config, opts ...Option) (*Consumer, error) {
	if subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if registry == nil {
		return nil, errspkg.ErrRegistryRequired
	}

	c := &Consumer{
		subscriber: subscriber,
		registry:   registry,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = loggingpkg.NewNopServiceLogger()
	}
	if c.cfg.MaxInFlight <= 0 {
		c.cfg.MaxInFlight = DefaultMaxInFlight
		if pool, ok := c.pool.(capacity); ok && pool.Capacity() > 0 {
			c.cfg.MaxInFlight = pool.Capacity()
		}
	}
	return c, nil
}

// MaxInFlight returns the per-topic bound on unacknowledged messages.
func (c *Consumer) MaxInFlight() int {
	return c.cfg.MaxInFlight
}

// Topics returns the topics Run subscribes to.
func (c *Consumer) Topics() []string {
	return c.registry.SubscribedTopics(c.cfg.PubSubName)
}

// Run consumes every subscribed topic until ctx is cancelled or a
// subscription fails. Messages are acknowledged once their unit completed;
// failed handlers are compensated by redelivery, not by a nack.
func (c *Consumer) Run(ctx context.Context) error {
	topics := c.Topics()
	if len(topics) == 0 {
		c.logger.Info("No topics to consume", loggingpkg.LogFields{"pubsub_name": c.cfg.PubSubName})
		<-ctx.Done()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for _, topic := range topics {
		messages, err := c.subscriber.Subscribe(gctx, topic)
		if err != nil {
			// Stop the loops already started before waiting for them.
			cancel()
			_ = g.Wait()
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}

		c.logger.Info("Consuming topic", loggingpkg.LogFields{
			"pubsub_name":    c.cfg.PubSubName,
			"topic":          topic,
			"consumer_group": c.cfg.ConsumerGroup,
		})

		g.Go(func() error {
			return c.consume(gctx, topic, messages)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// consume dispatches the messages of topic concurrently, up to MaxInFlight at
// a time. Each message is acknowledged once its unit completed. consume
// returns after every dispatched message has been settled.
func (c *Consumer) consume(ctx context.Context, topic string, messages <-chan *message.Message) error {
	channels := make(map[int32]*dispatch.ChannelContext)
	inFlight := semaphore.NewWeighted(int64(c.cfg.MaxInFlight))
	var pending sync.WaitGroup
	defer pending.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := inFlight.Acquire(ctx, 1); err != nil {
				msg.Nack()
				return nil
			}

			raw := RawMessageFrom(topic, msg)
			channel, found := channels[raw.Partition]
			if !found {
				channel = c.newChannel(topic, raw.Partition)
				channels[raw.Partition] = channel
			}

			pending.Add(1)
			go func() {
				defer pending.Done()
				defer inFlight.Release(1)
				c.handle(ctx, msg, raw, channel)
			}()
		}
	}
}

func (c *Consumer) newChannel(topic string, partition int32) *dispatch.ChannelContext {
	return &dispatch.ChannelContext{
		PubSubName:    c.cfg.PubSubName,
		Topic:         topic,
		Partition:     partition,
		ConsumerGroup: c.cfg.ConsumerGroup,
		ConsumerName:  c.cfg.ConsumerName,
	}
}

func (c *Consumer) handle(ctx context.Context, msg *message.Message, raw dispatch.RawMessage, channel *dispatch.ChannelContext) {
	unit := dispatch.New(raw, channel, dispatch.Deps{
		Context:     ctx,
		Handlers:    c.registry,
		Redeliverer: c.redeliverer,
		Telemetry:   c.telemetry,
		Logger:      c.logger,
	})

	c.schedule(ctx, unit)
	c.settle(ctx, msg, unit)
}

// settle acknowledges msg once unit completed. On shutdown the unit is
// cancelled and still awaited: a failed handler has already been compensated
// by redelivery, so the broker must not redeliver it a second time.
func (c *Consumer) settle(ctx context.Context, msg *message.Message, unit *dispatch.Unit) {
	if err := unit.WaitToComplete(ctx); err != nil {
		unit.Cancel()
		<-unit.Done()
		c.logger.Debug("Message settled on shutdown", loggingpkg.LogFields{
			"topic":        unit.Message().Topic,
			"message_uuid": unit.Message().UUID,
			"outcome":      unit.Outcome().String(),
		})
	}
	msg.Ack()
}

// schedule hands unit to the pool and starts it inline when the pool refuses
// it. A unit the pool accepted may still be started here; the unit's start
// guard makes that safe.
func (c *Consumer) schedule(ctx context.Context, unit *dispatch.Unit) {
	if c.pool == nil {
		unit.Start()
		return
	}
	if err := c.pool.Submit(ctx, unit); err != nil {
		c.logger.Debug("Starting unit outside the worker pool", loggingpkg.LogFields{
			"message_uuid": unit.Message().UUID,
			"reason":       err.Error(),
		})
		unit.Start()
	}
}

// RawMessageFrom converts a Watermill message received on topic. Kafka
// partition and offset are read from the message context when present.
func RawMessageFrom(topic string, msg *message.Message) dispatch.RawMessage {
	raw := dispatch.RawMessage{
		UUID:     msg.UUID,
		Topic:    topic,
		Offset:   UnknownOffset,
		Payload:  msg.Payload,
		Metadata: headerspkg.FromWatermill(msg.Metadata),
	}

	ctx := msg.Context()
	if partition, ok := kafka.MessagePartitionFromCtx(ctx); ok {
		raw.Partition = partition
	}
	if offset, ok := kafka.MessagePartitionOffsetFromCtx(ctx); ok {
		raw.Offset = offset
	}
	return raw
}
