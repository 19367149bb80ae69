// Package channel provides the in-memory transport used for local runs and
// tests. Publisher and subscriber share one Go channel pub/sub.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/eventdispatch/transport"
)

// TransportName is the pubsub system name of this transport.
const TransportName = "channel"

// OutputBuffer is the per-subscription buffer size.
const OutputBuffer = 64

// Factory creates the pub/sub. Tests replace it.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	transport.Register(TransportName, Build, Capabilities())
}

// Build creates the in-memory transport. Messages published to a topic
// without subscribers are dropped, which includes dead letter topics nobody
// consumes.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: OutputBuffer}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities of the in-memory transport.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Name:             TransportName,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}
}
