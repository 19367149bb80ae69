package registry

import (
	"context"
	"reflect"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
)

// Handler is implemented by application handlers for events whose data
// decodes into T. A nil error means the event was processed; any other
// error, or a panic, is a failure and the message is redelivered. See
// cloudevents.ClassifyError for errors that change that.
type Handler[T any] interface {
	HandleCloudEvent(ctx context.Context, evt cloudevents.TypedEvent[T]) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, evt cloudevents.TypedEvent[T]) error

func (f HandlerFunc[T]) HandleCloudEvent(ctx context.Context, evt cloudevents.TypedEvent[T]) error {
	return f(ctx, evt)
}

// Resolver supplies the handler instance for a routing key. It is called
// once per registered key while the registry is built.
type Resolver interface {
	Resolve(md cloudevents.Metadata, dataType reflect.Type) (any, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(md cloudevents.Metadata, dataType reflect.Type) (any, error)

func (f ResolverFunc) Resolve(md cloudevents.Metadata, dataType reflect.Type) (any, error) {
	return f(md, dataType)
}

// InvokeFunc decodes the data of evt and calls the bound handler.
type InvokeFunc func(ctx context.Context, evt cloudevents.Event) error

// Binding is a built routing entry. It is immutable once the registry is
// built and safe for concurrent use.
type Binding struct {
	Metadata cloudevents.Metadata
	DataType reflect.Type
	Handler  any

	invoke InvokeFunc
}

// Invoke decodes the event data into the bound data type and calls the
// handler. Data that cannot be decoded is reported as an error wrapping
// errors.ErrDataDecode and is redelivered.
func (b *Binding) Invoke(ctx context.Context, evt cloudevents.Event) error {
	return b.invoke(ctx, evt)
}
