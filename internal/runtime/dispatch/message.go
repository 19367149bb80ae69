package dispatch

import (
	"fmt"
	"maps"
)

// ChannelContext is the static data of one consumed channel. It is shared
// read-only by every Unit created for that channel.
type ChannelContext struct {
	PubSubName    string
	Topic         string
	Partition     int32
	ConsumerGroup string
	ConsumerName  string
}

// RawMessage is an inbound message as fetched from the broker. Partition and
// Offset are used for logs and telemetry only, never for routing.
type RawMessage struct {
	UUID      string
	Topic     string
	Partition int32
	Offset    int64
	Payload   []byte
	Metadata  map[string]string
}

// Position renders the message location as topic[partition]@offset.
func (m RawMessage) Position() string {
	return fmt.Sprintf("%s[%d]@%d", m.Topic, m.Partition, m.Offset)
}

// Clone copies the payload and metadata so the result can outlive the
// transport's buffers.
func (m RawMessage) Clone() RawMessage {
	m.Payload = append([]byte(nil), m.Payload...)
	m.Metadata = maps.Clone(m.Metadata)
	return m
}
