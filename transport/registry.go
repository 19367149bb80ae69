package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// Registry maps pubsub system names to transport builders. Transport
// packages register themselves with DefaultRegistry from init.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// DefaultRegistry is the global transport registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a new transport registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a builder under name, replacing any earlier one. The name
// is matched against the configured pubsub system.
func (r *Registry) Register(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caps.Name == "" {
		caps.Name = name
	}
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// GetCapabilities returns the capabilities of name. Unknown transports
// report only their name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build creates the transport selected by cfg.GetPubSubSystem and attaches
// its registered capabilities.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, fmt.Errorf("transport: config is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetPubSubSystem()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return Transport{}, fmt.Errorf("transport: unknown pubsub system %q (registered: %v)", name, r.Names())
	}

	t, err := builder(ctx, cfg, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("transport: build %s: %w", name, err)
	}
	t.Capabilities = r.GetCapabilities(name)
	return t, nil
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a builder to DefaultRegistry.
func Register(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.Register(name, builder, caps)
}

// GetCapabilities looks name up in DefaultRegistry.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}

// Build creates a transport using DefaultRegistry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
