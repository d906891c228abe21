// Package providers holds the adapter registry, the adapter factory and the
// configuration resolution that turns YAML/env settings into adapters.
package providers

import (
	"fmt"
	"sync"

	"llmgateway/internal/core"
)

// Registry indexes adapters by provider name. Registration happens once at
// startup; afterwards the registry is only read and is safe for concurrent lookup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]core.Provider
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]core.Provider)}
}

// Register adds an adapter under name. A name can only be registered once.
func (r *Registry) Register(name string, adapter core.Provider) error {
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if adapter == nil {
		return fmt.Errorf("provider %q: adapter is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("provider %q is already registered", name)
	}
	r.adapters[name] = adapter
	r.order = append(r.order, name)
	return nil
}

// Resolve returns the adapter registered under name, or an Unsupported error.
func (r *Registry) Resolve(name string) (core.Provider, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[name]
	r.mu.RUnlock()

	if !ok {
		return nil, core.NewUnsupportedError(name, fmt.Sprintf("provider %q is not configured", name))
	}
	return adapter, nil
}

// Names returns provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
