package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
)

// StaticResolver hands out pre-constructed handler instances keyed by the
// event data type. An instance registered for a key's data type is reused
// for every routing key of that type.
type StaticResolver struct {
	mu       sync.RWMutex
	handlers map[reflect.Type]any
}

// NewStaticResolver returns an empty resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{handlers: make(map[reflect.Type]any)}
}

// Provide registers h as the handler for events carrying T. A later call for
// the same T replaces the earlier instance.
func Provide[T any](r *StaticResolver, h Handler[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[reflect.TypeFor[T]()] = h
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(md cloudevents.Metadata, dataType reflect.Type) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[dataType]
	if !ok {
		return nil, fmt.Errorf("no handler provided for %s (%s)", dataType, md)
	}
	return h, nil
}
