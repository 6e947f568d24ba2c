package dfs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/internal/events"
	"github.com/wildfs/wildfs/internal/node"
	"github.com/wildfs/wildfs/internal/translator"
	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

type openResult struct {
	desc    types.Descriptor
	outcome types.Outcome
}

// Open opens an existing file. Only a physical file can be opened; among
// several existing occurrences the one whose exposed path equals the request is
// used.
func (d *DFS) Open(ctx context.Context, path string) (h FileHandle, err error) {
	start := time.Now()
	defer func() { d.observe(events.OpOpen, start, err) }()

	_, nodes, err := d.relatedNodes(path)
	if err != nil {
		return FileHandle{}, err
	}
	n, err := d.singleExisting(ctx, path, nodes, func(present []node.Descriptor) (node.Descriptor, error) {
		e, ok := translator.Find(d.translator.AssignExposedPaths(present), path)
		if !ok {
			return node.Descriptor{}, errors.ReadOnlyPath(path)
		}
		return e.Node, nil
	})
	if err != nil {
		return FileHandle{}, err
	}
	if n.IsVirtual() {
		return FileHandle{}, errors.NotAFile(path)
	}

	res, err := run(ctx, d, events.OpOpen, n, func(b types.Backend, within string) (openResult, error) {
		desc, outcome, err := b.Open(ctx, within)
		return openResult{desc: desc, outcome: outcome}, err
	})
	if err != nil {
		return FileHandle{}, err
	}

	switch res.outcome {
	case types.OK:
		return d.register(res.desc, path), nil
	case types.NotFound:
		return FileHandle{}, errors.NoSuchPath(path)
	case types.NotAFile:
		return FileHandle{}, errors.NotAFile(path)
	default:
		return FileHandle{}, unexpected(path, res.outcome)
	}
}

// CreateFile creates an empty file and opens it.
func (d *DFS) CreateFile(ctx context.Context, path string) (h FileHandle, err error) {
	start := time.Now()
	defer func() { d.observe(events.OpCreateFile, start, err) }()

	n, err := d.createTarget(ctx, path)
	if err != nil {
		return FileHandle{}, err
	}

	res, err := run(ctx, d, events.OpCreateFile, n, func(b types.Backend, within string) (openResult, error) {
		desc, outcome, err := b.CreateFile(ctx, within)
		return openResult{desc: desc, outcome: outcome}, err
	})
	if err != nil {
		return FileHandle{}, err
	}
	if res.outcome != types.OK {
		return FileHandle{}, createError(path, res.outcome)
	}
	return d.register(res.desc, path), nil
}

// CreateDir creates a directory.
func (d *DFS) CreateDir(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() { d.observe(events.OpCreateDir, start, err) }()

	n, err := d.createTarget(ctx, path)
	if err != nil {
		return err
	}

	outcome, err := run(ctx, d, events.OpCreateDir, n, func(b types.Backend, within string) (types.Outcome, error) {
		return b.CreateDir(ctx, within)
	})
	if err != nil {
		return err
	}
	if outcome != types.OK {
		return createError(path, outcome)
	}
	return nil
}

// createTarget chooses where a new node is created. The path is taken
// literally, so a name that parses as a uuid can be created. With several
// occurrences the node is created in the only container whose parent
// directory exists; more than one such container is refused.
func (d *DFS) createTarget(ctx context.Context, path string) (node.Descriptor, error) {
	if err := validate(path); err != nil {
		return node.Descriptor{}, err
	}
	nodes, err := d.nodesAt(utils.CleanPath(path))
	if err != nil {
		return node.Descriptor{}, err
	}

	switch len(nodes) {
	case 0:
		return node.Descriptor{}, errors.InvalidParent(path)
	case 1:
		if nodes[0].IsVirtual() {
			return node.Descriptor{}, errors.PathAlreadyExists(path)
		}
		return nodes[0], nil
	}

	var withParent []node.Descriptor
	for _, n := range nodes {
		parent, ok := n.Parent()
		if !ok || parent.IsVirtual() {
			continue
		}
		exists, err := d.pathExists(ctx, parent)
		if err != nil {
			return node.Descriptor{}, err
		}
		if exists {
			withParent = append(withParent, n)
		}
	}

	switch len(withParent) {
	case 0:
		return node.Descriptor{}, errors.InvalidParent(path)
	case 1:
		return withParent[0], nil
	default:
		d.logger.Warn("Refusing ambiguous create", "path", path, "candidates", len(withParent))
		return node.Descriptor{}, errors.ReadOnlyPath(path)
	}
}

func createError(path string, outcome types.Outcome) error {
	switch outcome {
	case types.InvalidParent:
		return errors.InvalidParent(path)
	case types.AlreadyExists:
		return errors.PathAlreadyExists(path)
	default:
		return unexpected(path, outcome)
	}
}

func (d *DFS) register(desc types.Descriptor, path string) FileHandle {
	h := FileHandle(uuid.New())
	d.handles[h] = desc
	d.updateHandleGauge()
	d.logger.Debug("File opened", "path", path, "handle", h.String())
	return h
}
