package runtime

import (
	"context"

	"google.golang.org/protobuf/proto"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventdispatch/internal/runtime/errors"
	publisherpkg "github.com/drblury/eventdispatch/internal/runtime/publisher"
	"github.com/drblury/eventdispatch/internal/runtime/registry"
)

// RegisterHandler routes JSON events carrying T to h. attrs completes the
// routing metadata of T with the service defaults.
func RegisterHandler[T any](svc *Service, attrs cloudevents.Attributes, h registry.Handler[T]) (cloudevents.Metadata, error) {
	if svc == nil {
		return cloudevents.Metadata{}, errspkg.ErrServiceRequired
	}
	if h == nil {
		return cloudevents.Metadata{}, errspkg.ErrHandlerRequired
	}

	md, err := registry.Register[T](svc.registry, attrs)
	if err != nil {
		return md, err
	}
	registry.Provide(svc.handlers, h)
	return md, nil
}

// RegisterProtoHandler is RegisterHandler for protobuf data.
func RegisterProtoHandler[T proto.Message](svc *Service, attrs cloudevents.Attributes, h registry.Handler[T]) (cloudevents.Metadata, error) {
	if svc == nil {
		return cloudevents.Metadata{}, errspkg.ErrServiceRequired
	}
	if h == nil {
		return cloudevents.Metadata{}, errspkg.ErrHandlerRequired
	}

	md, err := registry.RegisterProto[T](svc.registry, attrs)
	if err != nil {
		return md, err
	}
	registry.Provide(svc.handlers, h)
	return md, nil
}

// RegisterEventType records the routing metadata of T for publishing only.
func RegisterEventType[T any](svc *Service, attrs cloudevents.Attributes) (cloudevents.Metadata, error) {
	if svc == nil {
		return cloudevents.Metadata{}, errspkg.ErrServiceRequired
	}
	return registry.RegisterMetadataFor[T](svc.registry, attrs)
}

// Publish sends data as a CloudEvent using the metadata registered for T.
func Publish[T any](ctx context.Context, svc *Service, data T, opts ...publisherpkg.EventOption) (cloudevents.Event, error) {
	if svc == nil {
		return cloudevents.Event{}, errspkg.ErrServiceRequired
	}
	return publisherpkg.Publish(ctx, svc.publisher, data, opts...)
}
