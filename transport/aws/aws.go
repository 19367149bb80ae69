// Package aws provides the SNS/SQS transport: events are published to SNS
// topics and consumed from one SQS queue per topic and consumer group.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/eventdispatch/transport"
)

// TransportName is the pubsub system name of this transport.
const TransportName = "aws"

// MaxMessageSize is the SNS payload limit.
const MaxMessageSize = 262144

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

// DefaultConfigLoader loads the SDK configuration. Tests replace it.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory maps topic names to ARNs. Tests replace it.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory creates the SNS publisher. Tests replace it.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SubscriberFactory creates the SNS-to-SQS subscriber. Tests replace it.
var SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sns.NewSubscriber(cfg, sqsCfg, logger)
}

func init() {
	transport.Register(TransportName, Build, Capabilities())
}

// settings are the transport values resolved from configuration.
type settings struct {
	region    string
	accountID string
	endpoint  *url.URL
	group     string
}

// Build creates the SNS publisher and SQS-backed subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	endpoint, err := awsEndpointURL(cfg)
	if err != nil {
		return transport.Transport{}, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg, endpoint)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"region": cfg.GetAWSRegion()})
		return transport.Transport{}, err
	}

	accountID, region := resolveAccountAndRegion(cfg, logger, awsCfg.Region)
	s := settings{
		region:    region,
		accountID: accountID,
		endpoint:  endpoint,
		group:     cfg.GetKafkaConsumerGroup(),
	}
	logger.Info("Building AWS transport", watermill.LogFields{
		"region":          s.region,
		"account_id":      s.accountID,
		"custom_endpoint": s.endpoint != nil,
	})

	topicResolver, err := TopicResolverFactory(s.accountID, s.region)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("failed to create SNS topic resolver: %w", err)
	}

	snsOpts, sqsOpts := endpointOptions(s.endpoint)

	publisher, err := PublisherFactory(sns.PublisherConfig{
		TopicResolver: topicResolver,
		AWSConfig:     awsCfg,
		OptFns:        snsOpts,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		sns.SubscriberConfig{
			AWSConfig:            awsCfg,
			OptFns:               snsOpts,
			TopicResolver:        topicResolver,
			GenerateSqsQueueName: queueNameGenerator(s.group),
		},
		sqs.SubscriberConfig{
			AWSConfig: awsCfg,
			OptFns:    sqsOpts,
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

func loadAWSConfig(ctx context.Context, cfg transport.Config, endpoint *url.URL) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	region := cfg.GetAWSRegion()
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	// Loaders replaced in tests ignore the options.
	if region != "" {
		awsCfg.Region = region
	}
	if endpoint != nil {
		awsCfg.BaseEndpoint = aws.String(endpoint.String())
	}
	return awsCfg, nil
}

// queueNameGenerator names queues <group>-<topic> so every consumer group
// subscribes its own queue to the SNS topic.
func queueNameGenerator(group string) sns.GenerateSqsQueueNameFn {
	return func(_ context.Context, topicArn sns.TopicArn) (string, error) {
		topic, err := sns.ExtractTopicNameFromTopicArn(topicArn)
		if err != nil {
			return "", err
		}
		if group == "" {
			return string(topic), nil
		}
		return group + "-" + string(topic), nil
	}
}

func endpointOptions(endpoint *url.URL) ([]func(*amazonsns.Options), []func(*amazonsqs.Options)) {
	if endpoint == nil {
		return nil, nil
	}
	resolved := smithyendpoints.Endpoint{URI: *endpoint}
	return []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: resolved}),
		}, []func(*amazonsqs.Options){
			amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: resolved}),
		}
}

// resolveAccountAndRegion falls back to the LocalStack account when a custom
// endpoint is configured without a valid account id.
func resolveAccountAndRegion(cfg transport.Config, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	if cfg == nil {
		return "", fallbackRegion
	}

	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	region := cfg.GetAWSRegion()
	if region == "" {
		region = fallbackRegion
	}

	if cfg.GetAWSEndpoint() != "" && len(accountID) != awsAccountIDLength {
		logger.Info("Using LocalStack account id", watermill.LogFields{"configured_account_id": accountID})
		accountID = localstackAccountID
	}
	return accountID, region
}

func awsEndpointURL(cfg transport.Config) (*url.URL, error) {
	if cfg == nil || cfg.GetAWSEndpoint() == "" {
		return nil, nil
	}

	parsed, err := url.Parse(cfg.GetAWSEndpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to parse AWS endpoint: %w", err)
	}
	return parsed, nil
}

// Capabilities of the SNS/SQS transport.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Name:            TransportName,
		SupportsAck:     true,
		SupportsNack:    true,
		SupportsTracing: true,
		MaxMessageSize:  MaxMessageSize,
	}
}
