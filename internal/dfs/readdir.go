package dfs

import (
	"context"
	"sort"
	"time"

	"github.com/wildfs/wildfs/internal/events"
	"github.com/wildfs/wildfs/internal/node"
	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

type listing struct {
	children []string
	outcome  types.Outcome
}

// ReadDir lists the exposed paths of the children of path, sorted.
//
// A physical occurrence that turns out to be a file is listed as itself, so a
// container whose claim is a single file shows up one level above. Entries that
// need more than one extra component to disambiguate are collapsed into their
// directory, written with a trailing separator.
func (d *DFS) ReadDir(ctx context.Context, path string) (entries []string, err error) {
	start := time.Now()
	defer func() { d.observe(events.OpReadDir, start, err) }()

	if err := validate(path); err != nil {
		return nil, err
	}
	requested := utils.CleanPath(path)

	resolved, err := d.resolver.Resolve(requested)
	if err != nil {
		return nil, asGeneric(err)
	}
	if len(resolved) == 0 {
		return nil, errors.NoSuchPath(requested)
	}

	var (
		children  []node.Descriptor
		listed    int
		failed    error
		expandVNs bool
	)
	for _, r := range resolved {
		if r.IsVirtual() {
			expandVNs = true
			listed++
			continue
		}

		n := node.FromResolved(requested, r)
		res, err := run(ctx, d, events.OpReadDir, n, func(b types.Backend, within string) (listing, error) {
			names, outcome, err := b.ReadDir(ctx, within)
			return listing{children: names, outcome: outcome}, err
		})
		if err != nil {
			d.logger.Warn("Occurrence skipped in listing", "path", requested,
				"container_id", n.Storages.ContainerID, "error", err)
			failed = err
			continue
		}

		switch res.outcome {
		case types.OK:
			listed++
			for _, child := range res.children {
				children = append(children, n.WithPaths(utils.JoinPath(requested, utils.BaseName(child)), child))
			}
		case types.NotADirectory:
			if len(resolved) == 1 {
				return nil, errors.NotADirectory(requested)
			}
			listed++
			children = append(children, n)
		case types.NotFound:
		default:
			d.logger.Warn("Unexpected readdir outcome", "path", requested, "outcome", res.outcome.String())
		}
	}

	if expandVNs {
		names, err := d.resolver.ListVirtualNodesIn(requested)
		if err != nil {
			return nil, asGeneric(err)
		}
		for _, name := range names {
			children = append(children, node.Virtual(utils.JoinPath(requested, name)))
		}
	}

	if listed == 0 {
		if failed != nil {
			return nil, failed
		}
		return nil, errors.NoSuchPath(requested)
	}

	return d.exposeChildren(requested, children), nil
}

// exposeChildren assigns exposed paths to one listing and folds them into the
// caller-visible entry list.
func (d *DFS) exposeChildren(requested string, children []node.Descriptor) []string {
	depth := utils.ComponentCount(requested)
	seen := make(map[string]struct{}, len(children))
	entries := make([]string, 0, len(children))

	for _, e := range d.translator.AssignExposedPaths(children) {
		entry := e.Path
		if utils.ComponentCount(entry) > depth+1 {
			comps := utils.Components(entry)[:depth+1]
			entry = utils.JoinPath(comps[0], comps[1:]...) + utils.Separator
		}
		key := utils.CleanPath(entry)
		if key == requested {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		entries = append(entries, entry)
	}

	sort.Strings(entries)
	return entries
}
