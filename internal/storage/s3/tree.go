package s3

import (
	"time"

	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

const (
	kindDir  = "dir"
	kindFile = "file"
)

// entry is one node of the stored tree.
type entry struct {
	Kind     string            `json:"kind"`
	Children map[string]*entry `json:"children,omitempty"`
	Object   string            `json:"object,omitempty"`
	ETag     string            `json:"etag,omitempty"`
	Size     uint64            `json:"size"`
	ModTime  int64             `json:"mtime"`
	ATime    int64             `json:"atime,omitempty"`
	Readonly bool              `json:"readonly,omitempty"`
}

type tree struct {
	Version int    `json:"version"`
	Root    *entry `json:"root"`
}

func newTree(now time.Time) *tree {
	return &tree{Version: 1, Root: newDir(now)}
}

func newDir(now time.Time) *entry {
	return &entry{Kind: kindDir, Children: map[string]*entry{}, ModTime: now.UnixNano()}
}

func (e *entry) isDir() bool {
	return e.Kind == kindDir
}

// lookup returns the entry at p, or nil.
func (t *tree) lookup(p string) *entry {
	cur := t.Root
	for _, name := range utils.Components(p)[1:] {
		if cur == nil || !cur.isDir() {
			return nil
		}
		cur = cur.Children[name]
	}
	return cur
}

// parent returns the directory that holds p and the final name of p. The
// directory is nil when it does not exist or p is the root.
func (t *tree) parent(p string) (*entry, string) {
	dir, ok := utils.ParentPath(p)
	if !ok {
		return nil, ""
	}
	e := t.lookup(dir)
	if e == nil || !e.isDir() {
		return nil, utils.BaseName(p)
	}
	return e, utils.BaseName(p)
}

func (e *entry) stat() types.Stat {
	st := types.Stat{
		NodeType:         types.NodeTypeFile,
		Size:             e.Size,
		ModificationTime: nanosToTimestamp(e.ModTime),
		ChangeTime:       nanosToTimestamp(e.ModTime),
		AccessTime:       nanosToTimestamp(e.ATime),
		Permissions:      types.Permissions{Readonly: e.Readonly},
	}
	if e.isDir() {
		st.NodeType = types.NodeTypeDir
		st.Size = 0
	}
	return st
}

func nanosToTimestamp(n int64) *types.UnixTimestamp {
	if n == 0 {
		return nil
	}
	return types.TimestampFrom(time.Unix(0, n))
}
