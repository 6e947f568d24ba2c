package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/pkg/types"
)

// Arena holds the containers known to the process, addressed by id. Every read
// returns a copy, so callers never alias the stored entity.
type Arena struct {
	mu       sync.RWMutex
	entities map[uuid.UUID]types.Container
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{entities: make(map[uuid.UUID]types.Container)}
}

// Put validates and stores a copy of c, replacing any container with the same id.
func (a *Arena) Put(c types.Container) error {
	if err := Validate(c); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entities[c.ID] = clone(c)
	return nil
}

// Get returns a copy of the container with id.
func (a *Arena) Get(id uuid.UUID) (types.Container, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.entities[id]
	if !ok {
		return types.Container{}, false
	}
	return clone(c), true
}

// Remove drops the container with id and reports whether it was present.
func (a *Arena) Remove(id uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entities[id]; !ok {
		return false
	}
	delete(a.entities, id)
	return true
}

// Len returns the number of containers.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entities)
}

// List returns copies of all containers ordered by name, then id.
func (a *Arena) List() []types.Container {
	a.mu.RLock()
	out := make([]types.Container, 0, len(a.entities))
	for _, c := range a.entities {
		out = append(out, clone(c))
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Load puts every container of the store into the arena.
func (a *Arena) Load(ctx context.Context, s *Store) error {
	containers, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, c := range containers {
		if err := a.Put(c); err != nil {
			return fmt.Errorf("load %s: %w", c.ID, err)
		}
	}
	return nil
}

func clone(c types.Container) types.Container {
	out := c
	out.Paths = append([]string(nil), c.Paths...)
	if c.Storages != nil {
		out.Storages = make([]types.Storage, len(c.Storages))
		for i, st := range c.Storages {
			st.Config = append([]byte(nil), st.Config...)
			out.Storages[i] = st
		}
	}
	return out
}
