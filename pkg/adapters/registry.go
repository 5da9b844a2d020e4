package adapters

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs one adapter instance for the given endpoint
// environment.
type Factory func(ep Endpoints) Adapter

// Registry maps exchange names to adapter factories. It is populated by
// explicit Register calls, not import side effects, so tests can build
// isolated registries. Registration happens at startup; Resolve is
// read-mostly and safe for concurrent use by every feed.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates an exchange name with an adapter factory. Registering
// the same name twice replaces the previous factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Resolve constructs the adapter registered under name, applying endpoint
// overrides. Unknown names fail with ErrUnknownExchange.
func (r *Registry) Resolve(name string, ep Endpoints) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExchange, name)
	}
	return factory(ep), nil
}

// Names returns the registered exchange names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
