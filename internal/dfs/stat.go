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

type statResult struct {
	stat    types.Stat
	outcome types.Outcome
}

// Getattr returns the attributes of path, or nil when nothing exists there.
func (d *DFS) Getattr(ctx context.Context, path string) (*types.Stat, error) {
	st, err := d.Metadata(ctx, path)
	if errors.HasCode(err, errors.ErrCodeNoSuchPath) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Metadata returns the attributes of path. Virtual nodes are directories of
// size 0 without timestamps. When several occurrences exist, the one whose
// exposed path equals the request wins; a request matching none of them names
// the aggregating directory.
func (d *DFS) Metadata(ctx context.Context, path string) (st types.Stat, err error) {
	start := time.Now()
	defer func() { d.observe(events.OpMetadata, start, err) }()

	_, nodes, err := d.relatedNodes(path)
	if err != nil {
		return types.Stat{}, err
	}

	var (
		found []node.Descriptor
		stats []types.Stat
	)
	for _, n := range nodes {
		if n.IsVirtual() {
			found = append(found, n)
			stats = append(stats, types.DirStat())
			continue
		}
		res, err := run(ctx, d, events.OpMetadata, n, func(b types.Backend, within string) (statResult, error) {
			st, outcome, err := b.Metadata(ctx, within)
			return statResult{stat: st, outcome: outcome}, err
		})
		if err != nil {
			return types.Stat{}, err
		}
		if res.outcome == types.OK {
			found = append(found, n)
			stats = append(stats, res.stat)
		}
	}

	switch len(found) {
	case 0:
		return types.Stat{}, errors.NoSuchPath(path)
	case 1:
		return stats[0], nil
	}

	for i, e := range d.translator.AssignExposedPaths(found) {
		if e.Path == utils.CleanPath(path) && e.Node.IsPhysical() {
			return stats[i], nil
		}
	}
	return types.DirStat(), nil
}

// StatFS reports filesystem statistics of the storage holding path. Virtual
// nodes have no storage and report zeroes.
func (d *DFS) StatFS(ctx context.Context, path string) (fs types.FsStat, err error) {
	start := time.Now()
	defer func() { d.observe(events.OpStatFs, start, err) }()

	_, nodes, err := d.relatedNodes(path)
	if err != nil {
		return types.FsStat{}, err
	}
	n, err := d.singleExisting(ctx, path, nodes, nil)
	if err != nil {
		return types.FsStat{}, err
	}
	if n.IsVirtual() {
		return types.FsStat{}, nil
	}

	type result struct {
		fs      types.FsStat
		outcome types.Outcome
	}
	res, err := run(ctx, d, events.OpStatFs, n, func(b types.Backend, within string) (result, error) {
		fs, outcome, err := b.StatFS(ctx, within)
		return result{fs: fs, outcome: outcome}, err
	})
	if err != nil {
		return types.FsStat{}, err
	}

	switch res.outcome {
	case types.OK:
		return res.fs, nil
	case types.NotFound:
		return types.FsStat{}, errors.NoSuchPath(path)
	case types.NotSupported:
		return types.FsStat{}, errors.Generic("filesystem statistics are not supported by this storage").
			WithContext("path", path)
	default:
		return types.FsStat{}, unexpected(path, res.outcome)
	}
}
