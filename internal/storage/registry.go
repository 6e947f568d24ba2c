// Package storage builds storage backends from their type tag and caches one
// backend instance per storage id.
package storage

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
)

// Constructor builds a backend from a storage definition.
type Constructor func(ctx context.Context, storage types.Storage) (types.Backend, error)

// Registry maps backend type tags to constructors. It cannot be changed after construction.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry copies constructors into a new registry.
func NewRegistry(constructors map[string]Constructor) *Registry {
	m := make(map[string]Constructor, len(constructors))
	for tag, c := range constructors {
		m[tag] = c
	}
	return &Registry{constructors: m}
}

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []string {
	tags := make([]string, 0, len(r.constructors))
	for tag := range r.constructors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Supports reports whether backendType has a constructor.
func (r *Registry) Supports(backendType string) bool {
	_, ok := r.constructors[backendType]
	return ok
}

// Build constructs a fresh backend for storage.
func (r *Registry) Build(ctx context.Context, storage types.Storage) (types.Backend, error) {
	c, ok := r.constructors[storage.BackendType]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeUnsupportedBackend, "unsupported backend type: "+storage.BackendType).
			WithContext("storage_id", storage.ID.String()).
			WithContext("backend_type", storage.BackendType)
	}

	backend, err := c(ctx, storage)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeBackendUnavailable, "failed to initialize backend").
			WithContext("storage_id", storage.ID.String()).
			WithContext("backend_type", storage.BackendType).
			WithCause(err)
	}
	return backend, nil
}

// Cache owns one backend per storage id. Failed constructions are not cached, so
// the next call retries them.
type Cache struct {
	registry *Registry
	logger   *slog.Logger

	mu       sync.Mutex
	backends map[uuid.UUID]types.Backend
}

// NewCache creates an empty cache over registry.
func NewCache(registry *Registry, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		registry: registry,
		logger:   logger.With("component", "backend-cache"),
		backends: make(map[uuid.UUID]types.Backend),
	}
}

// Backend returns the cached backend of storage, building it on first use.
func (c *Cache) Backend(ctx context.Context, storage types.Storage) (types.Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.backends[storage.ID]; ok {
		return b, nil
	}

	b, err := c.registry.Build(ctx, storage)
	if err != nil {
		return nil, err
	}
	c.backends[storage.ID] = b
	c.logger.Debug("Backend initialized", "storage_id", storage.ID, "backend_type", storage.BackendType)
	return b, nil
}

// Evict drops the cached backend of a storage.
func (c *Cache) Evict(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.backends, id)
}

// Len returns the number of cached backends.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.backends)
}
