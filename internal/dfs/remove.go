package dfs

import (
	"context"
	"time"

	"github.com/wildfs/wildfs/internal/events"
	"github.com/wildfs/wildfs/internal/node"
	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

// RemoveDir removes an empty directory.
func (d *DFS) RemoveDir(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() { d.observe(events.OpRemoveDir, start, err) }()

	n, err := d.mutableNode(ctx, path)
	if err != nil {
		return err
	}
	outcome, err := run(ctx, d, events.OpRemoveDir, n, func(b types.Backend, within string) (types.Outcome, error) {
		return b.RemoveDir(ctx, within)
	})
	if err != nil {
		return err
	}

	switch outcome {
	case types.OK:
		return nil
	case types.NotFound:
		return errors.NoSuchPath(path)
	case types.NotADirectory:
		return errors.NotADirectory(path)
	case types.DirNotEmpty:
		return errors.DirNotEmpty(path)
	case types.RootRemovalNotAllowed:
		return errors.ReadOnlyPath(path)
	default:
		return unexpected(path, outcome)
	}
}

// RemoveFile removes a file.
func (d *DFS) RemoveFile(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() { d.observe(events.OpRemoveFile, start, err) }()

	n, err := d.mutableNode(ctx, path)
	if err != nil {
		return err
	}
	outcome, err := run(ctx, d, events.OpRemoveFile, n, func(b types.Backend, within string) (types.Outcome, error) {
		return b.RemoveFile(ctx, within)
	})
	if err != nil {
		return err
	}

	switch outcome {
	case types.OK:
		return nil
	case types.NotFound:
		return errors.NoSuchPath(path)
	case types.NotAFile:
		return errors.NotAFile(path)
	default:
		return unexpected(path, outcome)
	}
}

// SetPermissions changes the permissions of the node at path.
func (d *DFS) SetPermissions(ctx context.Context, path string, perms types.Permissions) (err error) {
	start := time.Now()
	defer func() { d.observe(events.OpSetPermissions, start, err) }()

	n, err := d.mutableNode(ctx, path)
	if err != nil {
		return err
	}
	outcome, err := run(ctx, d, events.OpSetPermissions, n, func(b types.Backend, within string) (types.Outcome, error) {
		return b.SetPermissions(ctx, within, perms)
	})
	if err != nil {
		return err
	}

	switch outcome {
	case types.OK:
		return nil
	case types.NotFound:
		return errors.NoSuchPath(path)
	case types.NotSupported:
		return errors.Generic("permissions are not supported by this storage").WithContext("path", path)
	default:
		return unexpected(path, outcome)
	}
}

// Rename moves a node within its container. The target must not exist and
// must not belong to another container. A source that several containers
// resolve is read-only unless it is named by its disambiguated entry.
func (d *DFS) Rename(ctx context.Context, oldPath, newPath string) (err error) {
	start := time.Now()
	defer func() { d.observe(events.OpRename, start, err) }()

	if err := validate(newPath); err != nil {
		return err
	}
	_, nodes, err := d.relatedNodes(oldPath)
	if err != nil {
		return err
	}
	if physicalCount(nodes) > 1 {
		if _, ok := d.disambiguated(oldPath, nodes); !ok {
			return errors.ReadOnlyPath(oldPath)
		}
	}
	n, err := d.mutableNodeOf(ctx, oldPath, nodes)
	if err != nil {
		return err
	}

	target := utils.CleanPath(newPath)
	newWithin, err := d.targetWithin(n, oldPath, target)
	if err != nil {
		return err
	}

	outcome, err := run(ctx, d, events.OpRename, n, func(b types.Backend, within string) (types.Outcome, error) {
		return b.Rename(ctx, within, newWithin)
	})
	if err != nil {
		return err
	}

	switch outcome {
	case types.OK:
		return nil
	case types.NotFound:
		return errors.NoSuchPath(oldPath)
	case types.AlreadyExists, types.DirNotEmpty:
		return errors.PathAlreadyExists(newPath)
	case types.SourceIsParentOfTarget:
		return errors.SourceIsParentOfTarget(oldPath, newPath)
	case types.InvalidParent:
		return errors.InvalidParent(newPath)
	default:
		return unexpected(oldPath, outcome)
	}
}

// mutableNode resolves the single existing node a removal, rename or
// permission change acts on. Virtual nodes are read-only.
func (d *DFS) mutableNode(ctx context.Context, path string) (node.Descriptor, error) {
	_, nodes, err := d.relatedNodes(path)
	if err != nil {
		return node.Descriptor{}, err
	}
	return d.mutableNodeOf(ctx, path, nodes)
}

func (d *DFS) mutableNodeOf(ctx context.Context, path string, nodes []node.Descriptor) (node.Descriptor, error) {
	n, err := d.singleExisting(ctx, path, nodes, nil)
	if err != nil {
		return node.Descriptor{}, err
	}
	if n.IsVirtual() {
		return node.Descriptor{}, errors.ReadOnlyPath(path)
	}
	return n, nil
}

func physicalCount(nodes []node.Descriptor) int {
	count := 0
	for _, n := range nodes {
		if n.IsPhysical() {
			count++
		}
	}
	return count
}

// claimOf returns the claimed path of the container a physical node lives in.
func claimOf(n node.Descriptor) string {
	comps := utils.Components(n.AbsolutePath)
	depth := len(comps) - (utils.ComponentCount(n.Storages.PathWithinStorage) - 1)
	return utils.JoinPath(comps[0], comps[1:depth]...)
}

// targetWithin maps the rename target into n's storage.
func (d *DFS) targetWithin(n node.Descriptor, oldPath, target string) (string, error) {
	claim := claimOf(n)
	within, ok := utils.TrimPathPrefix(target, claim)
	if !ok {
		return "", errors.MoveBetweenContainers(oldPath, target)
	}

	resolved, err := d.resolver.Resolve(target)
	if err != nil {
		return "", asGeneric(err)
	}
	depth := utils.ComponentCount(claim)
	for _, r := range resolved {
		if r.IsVirtual() {
			return "", errors.PathAlreadyExists(target)
		}
		if r.Physical.ContainerID == n.Storages.ContainerID {
			continue
		}
		otherDepth := utils.ComponentCount(target) - (utils.ComponentCount(r.Physical.PathWithinStorage) - 1)
		if otherDepth > depth {
			return "", errors.MoveBetweenContainers(oldPath, target)
		}
	}
	return within, nil
}
