// Package rabbitmq provides the RabbitMQ transport on durable fan-out
// exchanges. Each consumer group gets its own durable queue per topic.
package rabbitmq

import (
	"context"
	"errors"
	"io"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventdispatch/transport"
)

// TransportName is the pubsub system name of this transport.
const TransportName = "rabbitmq"

// ErrNoURL is returned when no AMQP URI is configured.
var ErrNoURL = errors.New("rabbitmq: AMQP URI is required")

// ConnectionFactory opens the shared connection. Tests replace it.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory creates the publisher. Tests replace it.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory creates the subscriber. Tests replace it.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	transport.Register(TransportName, Build, Capabilities())
}

// Build opens one connection shared by the publisher and subscriber. The
// connection is closed together with the publisher.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, ErrNoURL
	}

	amqpConfig := amqp.NewDurablePubSubConfig(url, QueueNameGenerator(cfg.GetKafkaConsumerGroup()))

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  &connectionPublisher{Publisher: publisher, conn: conn},
		Subscriber: subscriber,
	}, nil
}

// QueueNameGenerator names queues <topic>_<group> so every consumer group
// receives its own copy of each event. Without a group the topic name is used.
func QueueNameGenerator(group string) amqp.QueueNameGenerator {
	if group == "" {
		return amqp.GenerateQueueNameTopicName
	}
	return amqp.GenerateQueueNameTopicNameWithSuffix(group)
}

type connectionPublisher struct {
	message.Publisher
	conn io.Closer
}

func (p *connectionPublisher) Close() error {
	return errors.Join(p.Publisher.Close(), p.conn.Close())
}

// Capabilities of the RabbitMQ transport.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Name:             TransportName,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}
}
