// Package resolver implements the mount table: it maps a namespace path onto the
// containers that own it.
package resolver

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

// ResolvedPath is one occurrence of a path. Exactly one of Physical and Virtual is set.
type ResolvedPath struct {
	Physical *PhysicalPath
	Virtual  *VirtualPath
}

// PhysicalPath is a path backed by a container's storages.
type PhysicalPath struct {
	PathWithinStorage string
	ContainerID       uuid.UUID
	Storages          []types.Storage
}

// VirtualPath is an ancestor of some container claim with no backing of its own.
type VirtualPath struct {
	Path string
}

// IsVirtual reports whether r is a virtual occurrence.
func (r ResolvedPath) IsVirtual() bool {
	return r.Virtual != nil
}

// PathResolver is the read side of the mount table used by the DFS frontend.
type PathResolver interface {
	Resolve(path string) ([]ResolvedPath, error)
	ListVirtualNodesIn(path string) ([]string, error)
	IsVirtualNode(path string) bool
}

type mountEntry struct {
	container types.Container
	paths     []string
}

// MountTable holds the mounted containers. It is safe for concurrent use.
type MountTable struct {
	mu      sync.RWMutex
	entries []mountEntry
	logger  *slog.Logger
}

// NewMountTable creates an empty mount table.
func NewMountTable(logger *slog.Logger) *MountTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &MountTable{logger: logger.With("component", "resolver")}
}

// Mount activates a container. Only its first claimed path takes part in resolution.
func (m *MountTable) Mount(container types.Container) error {
	if len(container.Paths) == 0 {
		return errors.NewError(errors.ErrCodeInvalidContainer, "container claims no paths").
			WithContext("container_id", container.ID.String())
	}

	paths := make([]string, 0, len(container.Paths))
	for _, p := range container.Paths {
		if !strings.HasPrefix(p, utils.Separator) {
			return errors.NewError(errors.ErrCodeInvalidContainer, "claimed path must be absolute: "+p).
				WithContext("container_id", container.ID.String())
		}
		paths = append(paths, utils.CleanPath(p))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(container.ID) >= 0 {
		return errors.NewError(errors.ErrCodeAlreadyMounted, "container already mounted").
			WithContext("container_id", container.ID.String())
	}

	container.Paths = paths
	container.Storages = append([]types.Storage(nil), container.Storages...)
	m.entries = append(m.entries, mountEntry{container: container, paths: paths})

	m.logger.Info("Container mounted",
		"container_id", container.ID,
		"name", container.Name,
		"path", paths[0],
		"storages", len(container.Storages))
	return nil
}

// Unmount deactivates a container.
func (m *MountTable) Unmount(containerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(containerID)
	if i < 0 {
		return errors.NewError(errors.ErrCodeContainerNotMounted, "container not mounted").
			WithContext("container_id", containerID.String())
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)

	m.logger.Info("Container unmounted", "container_id", containerID)
	return nil
}

// Mounted returns the ids of mounted containers in mount order.
func (m *MountTable) Mounted() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(m.entries))
	for _, e := range m.entries {
		ids = append(ids, e.container.ID)
	}
	return ids
}

// Resolve returns every occurrence of path, in mount order.
func (m *MountTable) Resolve(path string) ([]ResolvedPath, error) {
	if err := utils.ValidatePath(path); err != nil {
		return nil, errors.Generic(err.Error()).WithCause(err)
	}
	path = utils.CleanPath(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ResolvedPath
	for _, e := range m.entries {
		claim := e.paths[0]
		if within, ok := utils.TrimPathPrefix(path, claim); ok {
			out = append(out, ResolvedPath{Physical: &PhysicalPath{
				PathWithinStorage: within,
				ContainerID:       e.container.ID,
				Storages:          append([]types.Storage(nil), e.container.Storages...),
			}})
		} else if utils.HasStrictPathPrefix(claim, path) {
			out = append(out, ResolvedPath{Virtual: &VirtualPath{Path: claim}})
		}
	}

	m.logger.Debug("Path resolved", "path", path, "occurrences", len(out))
	return out, nil
}

// ListVirtualNodesIn returns the sorted, distinct names of the next component of
// every claim strictly below path.
func (m *MountTable) ListVirtualNodesIn(path string) ([]string, error) {
	if err := utils.ValidatePath(path); err != nil {
		return nil, errors.Generic(err.Error()).WithCause(err)
	}
	path = utils.CleanPath(path)
	depth := utils.ComponentCount(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var names []string
	for _, e := range m.entries {
		claim := e.paths[0]
		if !utils.HasStrictPathPrefix(claim, path) {
			continue
		}
		name := utils.Components(claim)[depth]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// IsVirtualNode reports whether some claim lies strictly below path.
func (m *MountTable) IsVirtualNode(path string) bool {
	path = utils.CleanPath(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if utils.HasStrictPathPrefix(e.paths[0], path) {
			return true
		}
	}
	return false
}

func (m *MountTable) indexOf(id uuid.UUID) int {
	for i, e := range m.entries {
		if e.container.ID == id {
			return i
		}
	}
	return -1
}

var _ PathResolver = (*MountTable)(nil)
