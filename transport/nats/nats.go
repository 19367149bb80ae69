// Package nats provides the NATS Core transport. Subscribers of one consumer
// group share a queue group, so each message is handled once per group.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/eventdispatch/transport"
)

// TransportName is the pubsub system name of this transport.
const TransportName = "nats"

// MaxMessageSize matches the server default max_payload.
const MaxMessageSize = 1048576

// ErrNoURL is returned when no server URL is configured.
var ErrNoURL = errors.New("nats: server URL is required")

// PublisherFactory creates the publisher. Tests replace it.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory creates the subscriber. Tests replace it.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	transport.Register(TransportName, Build, Capabilities())
}

// Build creates the NATS Core publisher and queue-group subscriber. The
// consumer group doubles as the queue group prefix and connection name.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, ErrNoURL
	}
	group := cfg.GetKafkaConsumerGroup()
	marshaler := &nats.NATSMarshaler{}
	options := connectionOptions(group)
	core := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   core,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: group,
			NatsOptions:      options,
			Unmarshaler:      marshaler,
			JetStream:        core,
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

func connectionOptions(name string) []nc.Option {
	options := []nc.Option{nc.MaxReconnects(-1)}
	if name != "" {
		options = append(options, nc.Name(name))
	}
	return options
}

// Capabilities of the NATS Core transport. Core NATS has no acknowledgments:
// a message whose redelivery cannot be published is lost.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Name:            TransportName,
		SupportsTracing: true,
		MaxMessageSize:  MaxMessageSize,
	}
}
