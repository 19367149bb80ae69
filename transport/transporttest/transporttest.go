// Package transporttest provides configuration and pub/sub doubles for
// transport builder tests.
package transporttest

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventdispatch/transport"
)

// Config is a transport.Config backed by plain fields.
type Config struct {
	PubSubSystem       string
	KafkaBrokers       []string
	KafkaConsumerGroup string
	KafkaClientID      string
	RabbitMQURL        string
	NATSURL            string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

var _ transport.Config = (*Config)(nil)

func (c *Config) GetPubSubSystem() string       { return c.PubSubSystem }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *Config) GetKafkaClientID() string      { return c.KafkaClientID }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// Publisher records published topics.
type Publisher struct {
	Topics []string
}

func (p *Publisher) Publish(topic string, _ ...*message.Message) error {
	p.Topics = append(p.Topics, topic)
	return nil
}

func (p *Publisher) Close() error { return nil }

// Subscriber returns channels that never deliver.
type Subscriber struct{}

func (s *Subscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}

func (s *Subscriber) Close() error { return nil }
