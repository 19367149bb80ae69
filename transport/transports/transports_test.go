package transports

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/eventdispatch/transport"
)

func TestBuiltInTransportsRegistered(t *testing.T) {
	assert.Equal(t, []string{"aws", "channel", "kafka", "nats", "rabbitmq"}, transport.DefaultRegistry.Names())
}
