package cloudevents

import "fmt"

// Metadata is the routing key of an event: two events with equal metadata are
// handled by the same binding regardless of their payload. It is comparable
// and used directly as a map key.
type Metadata struct {
	PubSubName string
	Topic      string
	Type       string
	Source     string
}

func (m Metadata) String() string {
	return fmt.Sprintf("pubsub=%s topic=%s type=%s source=%s", m.PubSubName, m.Topic, m.Type, m.Source)
}

// Attributes are the routing values declared for an event data type. Empty
// fields fall back to the registry defaults when metadata is derived.
type Attributes struct {
	PubSubName string
	Topic      string
	Type       string
	Source     string
}

// Defaults holds the channel-level fallbacks used to complete Attributes.
type Defaults struct {
	PubSubName string
	Topic      string
	Source     string
}

// Resolve derives the routing metadata. typeName is used when no Type is
// declared.
func (a Attributes) Resolve(defaults Defaults, typeName string) Metadata {
	md := Metadata{
		PubSubName: a.PubSubName,
		Topic:      a.Topic,
		Type:       a.Type,
		Source:     a.Source,
	}
	if md.PubSubName == "" {
		md.PubSubName = defaults.PubSubName
	}
	if md.Topic == "" {
		md.Topic = defaults.Topic
	}
	if md.Type == "" {
		md.Type = typeName
	}
	if md.Source == "" {
		md.Source = defaults.Source
	}
	return md
}

// RoutingMetadata derives the routing key for an inbound event received on
// topic of the pubsub named pubsubName.
func RoutingMetadata(pubsubName, topic string, evt Event) Metadata {
	return Metadata{
		PubSubName: pubsubName,
		Topic:      topic,
		Type:       evt.Type,
		Source:     evt.Source,
	}
}
