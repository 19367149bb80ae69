package transport

// Capabilities describes what a broker guarantees to the dispatcher.
type Capabilities struct {
	Name string

	// SupportsOrdering reports in-order delivery within a partition or queue.
	SupportsOrdering bool

	// SupportsPartitioning reports that messages carry a partition and an
	// offset. Other transports report offset -1.
	SupportsPartitioning bool

	// SupportsAck reports that an unacknowledged message is delivered again.
	SupportsAck bool

	// SupportsNack reports that a nack triggers an immediate redelivery.
	SupportsNack bool

	// SupportsTracing reports that headers survive the round trip, so the
	// redelivery count and dead letter headers are preserved.
	SupportsTracing bool

	// MaxMessageSize is the largest payload in bytes, or 0 when unbounded.
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once delivery (ack and nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of size bytes can be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}
