// Package transport builds the Watermill publisher and subscriber pair the
// dispatcher consumes from, publishes to and redelivers through. Each broker
// lives in its own sub-package and registers a Builder under the name used
// as the pubsub system in configuration.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport is a publisher and subscriber pair for one broker.
type Transport struct {
	Publisher    message.Publisher
	Subscriber   message.Subscriber
	Capabilities Capabilities
}

// Close closes the subscriber first so no message is consumed while the
// publisher shuts down. A pub/sub implementing both sides is closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	if t.Publisher != nil && !sameEndpoint(t.Publisher, t.Subscriber) {
		errs = append(errs, t.Publisher.Close())
	}
	return errors.Join(errs...)
}

func sameEndpoint(pub message.Publisher, sub message.Subscriber) bool {
	if sub == nil {
		return false
	}
	asSub, ok := pub.(message.Subscriber)
	return ok && asSub == sub
}

// Builder creates a Transport from configuration.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes the settings transports read. It is satisfied by the
// service configuration.
type Config interface {
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string
	GetKafkaClientID() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}
