package storage

import (
	"fmt"
	"sort"
	"sync"

	"webhook-relay/internal/config"
)

// Factory opens a Storage from application configuration.
type Factory func(cfg *config.Config) (Storage, error)

// Registry maps DATABASE_TYPE values to storage factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds or replaces the factory for storageType.
func (r *Registry) Register(storageType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[storageType] = factory
}

// Create opens the storage registered for storageType.
func (r *Registry) Create(storageType string, cfg *config.Config) (Storage, error) {
	r.mu.RLock()
	factory, exists := r.factories[storageType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("storage type %s not registered", storageType)
	}

	return factory(cfg)
}

// GetAvailableTypes lists the registered storage types in sorted order.
func (r *Registry) GetAvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for storageType := range r.factories {
		types = append(types, storageType)
	}
	sort.Strings(types)
	return types
}

// IsRegistered reports whether storageType has a factory.
func (r *Registry) IsRegistered(storageType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[storageType]
	return exists
}

// DefaultRegistry is populated by the adapter packages' init functions.
var DefaultRegistry = NewRegistry()

// Register adds a factory to the DefaultRegistry.
func Register(storageType string, factory Factory) {
	DefaultRegistry.Register(storageType, factory)
}
