// Package transports registers every built-in transport with the default
// registry. Import it for side effects.
package transports

import (
	_ "github.com/drblury/eventdispatch/transport/aws"
	_ "github.com/drblury/eventdispatch/transport/channel"
	_ "github.com/drblury/eventdispatch/transport/kafka"
	_ "github.com/drblury/eventdispatch/transport/nats"
	_ "github.com/drblury/eventdispatch/transport/rabbitmq"
)
