// Package node models the resolved occurrence of a namespace path.
package node

import (
	"github.com/google/uuid"

	"github.com/wildfs/wildfs/internal/resolver"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

// Storages locates a physical node inside a container's replicas.
type Storages struct {
	Storages          []types.Storage
	PathWithinStorage string
	ContainerID       uuid.UUID
}

// Descriptor is a node anchored at an absolute namespace path. A nil Storages
// marks a virtual node: a directory with no physical backing.
type Descriptor struct {
	AbsolutePath string
	Storages     *Storages
}

// Physical creates a physically backed node.
func Physical(absolutePath string, storages Storages) Descriptor {
	return Descriptor{AbsolutePath: utils.CleanPath(absolutePath), Storages: &storages}
}

// Virtual creates a node without backing.
func Virtual(absolutePath string) Descriptor {
	return Descriptor{AbsolutePath: utils.CleanPath(absolutePath)}
}

// FromResolved maps a resolver result onto a node anchored at absolutePath.
// Virtual results are anchored at absolutePath as well, not at the claim they came from.
func FromResolved(absolutePath string, r resolver.ResolvedPath) Descriptor {
	if r.Physical == nil {
		return Virtual(absolutePath)
	}
	return Physical(absolutePath, Storages{
		Storages:          r.Physical.Storages,
		PathWithinStorage: r.Physical.PathWithinStorage,
		ContainerID:       r.Physical.ContainerID,
	})
}

// IsVirtual reports whether d has no physical backing.
func (d Descriptor) IsVirtual() bool {
	return d.Storages == nil
}

// IsPhysical reports whether d is backed by storages.
func (d Descriptor) IsPhysical() bool {
	return d.Storages != nil
}

// Parent returns the node one level up. A physical node at the root of its storage
// has no parent, since the parent lies outside the container.
func (d Descriptor) Parent() (Descriptor, bool) {
	absParent, ok := utils.ParentPath(d.AbsolutePath)
	if !ok {
		return Descriptor{}, false
	}
	if d.IsVirtual() {
		return Virtual(absParent), true
	}

	withinParent, ok := utils.ParentPath(d.Storages.PathWithinStorage)
	if !ok {
		return Descriptor{}, false
	}
	return Physical(absParent, Storages{
		Storages:          d.Storages.Storages,
		PathWithinStorage: withinParent,
		ContainerID:       d.Storages.ContainerID,
	}), true
}

// WithPaths returns a copy of a physical node re-anchored at new paths inside the same container.
func (d Descriptor) WithPaths(absolutePath, pathWithinStorage string) Descriptor {
	if d.IsVirtual() {
		return Virtual(absolutePath)
	}
	return Physical(absolutePath, Storages{
		Storages:          d.Storages.Storages,
		PathWithinStorage: utils.CleanPath(pathWithinStorage),
		ContainerID:       d.Storages.ContainerID,
	})
}
