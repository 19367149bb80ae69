// Package headers holds the transport headers the dispatcher reads and writes
// next to the CloudEvent payload.
package headers

import (
	"maps"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	// RedeliveryCount counts how many times a message has been republished
	// after a handler failure.
	RedeliveryCount = "ed_redelivery_count"

	// OriginalTopic names the topic a dead-lettered message was consumed from.
	OriginalTopic = "ed_original_topic"

	// Error carries the failure that moved a message to the dead letter topic.
	Error = "ed_error"

	// DeadLetterReason classifies why a message was dead-lettered.
	DeadLetterReason = "ed_dead_letter_reason"

	// RedeliveredFrom keeps the UUID of the message a redelivery replaces.
	RedeliveredFrom = "ed_redelivered_from"

	// PartitionKey selects the partition on brokers that partition topics.
	// Events with the same key keep their relative order.
	PartitionKey = "ed_partition_key"

	// CorrelationID tracks related messages across services.
	CorrelationID = "correlation_id"
)

// Headers are the string key/value pairs carried alongside a message.
type Headers map[string]string

func (h Headers) cloneWithExtra(extra int) Headers {
	cloned := make(Headers, len(h)+extra)
	maps.Copy(cloned, h)
	return cloned
}

// Clone returns a shallow copy. It never returns nil.
func (h Headers) Clone() Headers {
	return h.cloneWithExtra(0)
}

// With returns a copy containing key=value.
func (h Headers) With(key, value string) Headers {
	cloned := h.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a copy containing every entry of extra.
func (h Headers) WithAll(extra Headers) Headers {
	cloned := h.cloneWithExtra(len(extra))
	maps.Copy(cloned, extra)
	return cloned
}

// Redeliveries returns the redelivery count, treating a missing or malformed
// header as zero.
func (h Headers) Redeliveries() int {
	n, err := strconv.Atoi(h[RedeliveryCount])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// WithRedeliveries returns a copy with the redelivery count set to n.
func (h Headers) WithRedeliveries(n int) Headers {
	return h.With(RedeliveryCount, strconv.Itoa(n))
}

// New builds headers from alternating key/value pairs. A trailing key without
// a value is ignored.
func New(pairs ...string) Headers {
	h := make(Headers, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		h[pairs[i]] = pairs[i+1]
	}
	return h
}

// FromWatermill copies Watermill metadata.
func FromWatermill(md message.Metadata) Headers {
	h := make(Headers, len(md))
	maps.Copy(h, md)
	return h
}

// ToWatermill copies h into Watermill metadata.
func ToWatermill(h Headers) message.Metadata {
	md := make(message.Metadata, len(h))
	maps.Copy(md, h)
	return md
}
