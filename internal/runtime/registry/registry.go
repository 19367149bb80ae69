// Package registry maps event data types to routing metadata and routing
// metadata to handler bindings.
//
// A Registry has two phases. While open, RegisterMetadata and the generic
// RegisterHandler functions record what the process handles. Build resolves
// one handler instance per routing key and freezes the registry; from then
// on TryGetHandler is a plain map read that never blocks other readers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/protobuf/proto"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventdispatch/internal/runtime/errors"
)

type registration struct {
	dataType reflect.Type
	bind     func(handler any) (InvokeFunc, error)
}

// Registry is safe for concurrent use. Writes are serialised by a mutex until
// Build; reads after Build take no lock.
type Registry struct {
	defaults cloudevents.Defaults

	mu            sync.Mutex
	metadata      map[reflect.Type]cloudevents.Metadata
	registrations map[cloudevents.Metadata]registration
	order         []cloudevents.Metadata

	// bindings is assigned once, before built is set, and never written again.
	built    atomic.Bool
	bindings map[cloudevents.Metadata]*Binding
}

// New creates an open registry. The defaults complete any attribute a data
// type does not declare.
func New(defaultPubSubName, defaultTopic, defaultSource string) *Registry {
	return &Registry{
		defaults: cloudevents.Defaults{
			PubSubName: defaultPubSubName,
			Topic:      defaultTopic,
			Source:     defaultSource,
		},
		metadata:      make(map[reflect.Type]cloudevents.Metadata),
		registrations: make(map[cloudevents.Metadata]registration),
	}
}

// Defaults returns the fallbacks used to complete declared attributes.
func (r *Registry) Defaults() cloudevents.Defaults {
	return r.defaults
}

// RegisterMetadata derives the routing metadata of dataType from attrs and
// the registry defaults. The first registration of a type wins; later calls
// return the stored metadata unchanged, even after Build.
func (r *Registry) RegisterMetadata(dataType reflect.Type, attrs cloudevents.Attributes) (cloudevents.Metadata, error) {
	if dataType == nil {
		return cloudevents.Metadata{}, errspkg.ErrEventPayloadMissing
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if md, ok := r.metadata[dataType]; ok {
		return md, nil
	}
	if r.built.Load() {
		return cloudevents.Metadata{}, errspkg.ErrRegistryFrozen
	}

	md := attrs.Resolve(r.defaults, typeName(dataType))
	if md.Topic == "" {
		return cloudevents.Metadata{}, fmt.Errorf("%w for %s", errspkg.ErrTopicRequired, dataType)
	}
	r.metadata[dataType] = md
	return md, nil
}

// RegisterMetadataFor is RegisterMetadata for the type parameter T.
func RegisterMetadataFor[T any](r *Registry, attrs cloudevents.Attributes) (cloudevents.Metadata, error) {
	return r.RegisterMetadata(reflect.TypeFor[T](), attrs)
}

// RegisterHandler records that events routed by md carry JSON data of type
// T and are handled by a Handler[T]. The first registration of md wins.
func RegisterHandler[T any](r *Registry, md cloudevents.Metadata) error {
	return r.addRegistration(md, reflect.TypeFor[T](), bindDecoder(jsonDecoder[T]()))
}

// RegisterProtoHandler is RegisterHandler for protobuf data. JSON data is
// decoded with protojson and data_base64 as binary protobuf.
func RegisterProtoHandler[T proto.Message](r *Registry, md cloudevents.Metadata) error {
	decode, err := protoDecoder[T]()
	if err != nil {
		return err
	}
	return r.addRegistration(md, reflect.TypeFor[T](), bindDecoder(decode))
}

// Register derives the metadata of T and registers a JSON handler for it.
func Register[T any](r *Registry, attrs cloudevents.Attributes) (cloudevents.Metadata, error) {
	md, err := RegisterMetadataFor[T](r, attrs)
	if err != nil {
		return md, err
	}
	return md, RegisterHandler[T](r, md)
}

// RegisterProto derives the metadata of T and registers a proto handler for it.
func RegisterProto[T proto.Message](r *Registry, attrs cloudevents.Attributes) (cloudevents.Metadata, error) {
	md, err := RegisterMetadataFor[T](r, attrs)
	if err != nil {
		return md, err
	}
	return md, RegisterProtoHandler[T](r, md)
}

// bindDecoder captures the concrete data type so the hot path needs no
// reflection. The handler type is checked once, when the binding is built.
func bindDecoder[T any](decode decodeFunc[T]) func(handler any) (InvokeFunc, error) {
	return func(handler any) (InvokeFunc, error) {
		typed, ok := handler.(Handler[T])
		if !ok {
			return nil, fmt.Errorf("%T does not implement Handler[%s]", handler, reflect.TypeFor[T]())
		}
		return func(ctx context.Context, evt cloudevents.Event) error {
			data, err := decode(evt)
			if err != nil {
				return err
			}
			return typed.HandleCloudEvent(ctx, cloudevents.NewTypedEvent(evt, data))
		}, nil
	}
}

func (r *Registry) addRegistration(md cloudevents.Metadata, dataType reflect.Type, bind func(any) (InvokeFunc, error)) error {
	if md.Topic == "" || md.Type == "" {
		return fmt.Errorf("%w: routing metadata %s is incomplete", errspkg.ErrTopicRequired, md)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.built.Load() {
		return errspkg.ErrRegistryFrozen
	}
	if _, exists := r.registrations[md]; exists {
		return nil
	}
	r.registrations[md] = registration{dataType: dataType, bind: bind}
	r.order = append(r.order, md)
	return nil
}

// Build resolves one handler instance per registered routing key and freezes
// the registry. It succeeds at most once; when resolution fails the registry
// stays open and all failures are returned together.
func (r *Registry) Build(resolver Resolver) error {
	if resolver == nil {
		return errspkg.ErrResolverRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.built.Load() {
		return errspkg.ErrRegistryBuilt
	}

	bindings := make(map[cloudevents.Metadata]*Binding, len(r.order))
	var errs []error
	for _, md := range r.order {
		reg := r.registrations[md]

		handler, err := resolver.Resolve(md, reg.dataType)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %s: %w", md, err))
			continue
		}
		if handler == nil {
			errs = append(errs, fmt.Errorf("resolve %s: %w", md, errspkg.ErrHandlerRequired))
			continue
		}
		invoke, err := reg.bind(handler)
		if err != nil {
			errs = append(errs, fmt.Errorf("bind %s: %w", md, err))
			continue
		}

		bindings[md] = &Binding{
			Metadata: md,
			DataType: reg.dataType,
			Handler:  handler,
			invoke:   invoke,
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.bindings = bindings
	r.built.Store(true)
	return nil
}

// Built reports whether Build has completed.
func (r *Registry) Built() bool {
	return r.built.Load()
}

// TryGetHandler returns the binding for md. It reports false before Build.
func (r *Registry) TryGetHandler(md cloudevents.Metadata) (*Binding, bool) {
	if !r.built.Load() {
		return nil, false
	}
	b, ok := r.bindings[md]
	return b, ok
}

// SubscribedTopics returns the distinct topics of the built bindings for
// pubsubName in sorted order.
func (r *Registry) SubscribedTopics(pubsubName string) []string {
	if !r.built.Load() {
		return nil
	}

	seen := make(map[string]struct{})
	for md := range r.bindings {
		if md.PubSubName == pubsubName {
			seen[md.Topic] = struct{}{}
		}
	}

	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// GetMetadata returns the metadata registered for dataType.
func (r *Registry) GetMetadata(dataType reflect.Type) (cloudevents.Metadata, bool) {
	if !r.built.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	md, ok := r.metadata[dataType]
	return md, ok
}

// MetadataFor is GetMetadata for the type parameter T.
func MetadataFor[T any](r *Registry) (cloudevents.Metadata, bool) {
	return r.GetMetadata(reflect.TypeFor[T]())
}

// Bindings returns the built bindings in registration order, or nil before
// Build.
func (r *Registry) Bindings() []*Binding {
	if !r.built.Load() {
		return nil
	}
	out := make([]*Binding, 0, len(r.order))
	for _, md := range r.order {
		out = append(out, r.bindings[md])
	}
	return out
}

// Debug renders the registered metadata and bindings for diagnostics.
func (r *Registry) Debug() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder

	types := make([]reflect.Type, 0, len(r.metadata))
	for t := range r.metadata {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].String() < types[j].String() })

	fmt.Fprintf(&b, "metadata (%d):\n", len(types))
	for _, t := range types {
		fmt.Fprintf(&b, "  %s => %s\n", t, r.metadata[t])
	}

	fmt.Fprintf(&b, "handlers (%d, built=%t):\n", len(r.order), r.built.Load())
	for _, md := range r.order {
		reg := r.registrations[md]
		if binding, ok := r.bindings[md]; ok {
			fmt.Fprintf(&b, "  %s => %s handled by %T\n", md, reg.dataType, binding.Handler)
			continue
		}
		fmt.Fprintf(&b, "  %s => %s\n", md, reg.dataType)
	}

	return b.String()
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}
