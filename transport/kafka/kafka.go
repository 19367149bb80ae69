// Package kafka provides the Kafka transport. Consumed messages carry their
// partition and offset in the message context.
package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	headerspkg "github.com/drblury/eventdispatch/internal/runtime/headers"
	"github.com/drblury/eventdispatch/transport"
)

// TransportName is the pubsub system name of this transport.
const TransportName = "kafka"

// MaxMessageSize matches the broker default message.max.bytes.
const MaxMessageSize = 1048576

// ErrNoBrokers is returned when no broker address is configured.
var ErrNoBrokers = errors.New("kafka: at least one broker is required")

// PublisherFactory creates the publisher. Tests replace it.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory creates the subscriber. Tests replace it.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	transport.Register(TransportName, Build, Capabilities())
}

// Build creates the Kafka publisher and consumer-group subscriber.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, ErrNoBrokers
	}
	clientID := cfg.GetKafkaClientID()
	marshaler := kafka.NewWithPartitioningMarshaler(PartitionKey)

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: publisherSaramaConfig(clientID),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler,
			ConsumerGroup:         cfg.GetKafkaConsumerGroup(),
			OverwriteSaramaConfig: subscriberSaramaConfig(clientID),
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// PartitionKey keys Kafka records by the partition key header, falling back
// to the message UUID so unkeyed events spread across partitions.
func PartitionKey(_ string, msg *message.Message) (string, error) {
	if key := msg.Metadata.Get(headerspkg.PartitionKey); key != "" {
		return key, nil
	}
	return msg.UUID, nil
}

func publisherSaramaConfig(clientID string) *sarama.Config {
	cfg := kafka.DefaultSaramaSyncPublisherConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	return cfg
}

// subscriberSaramaConfig starts new consumer groups from the oldest offset
// so events published before the first deployment are not skipped.
func subscriberSaramaConfig(clientID string) *sarama.Config {
	cfg := kafka.DefaultSaramaSubscriberConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	if clientID != "" {
		cfg.ClientID = clientID
	}
	return cfg
}

// Capabilities of the Kafka transport.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Name:                 TransportName,
		SupportsOrdering:     true,
		SupportsPartitioning: true,
		SupportsAck:          true,
		SupportsTracing:      true,
		MaxMessageSize:       MaxMessageSize,
	}
}
