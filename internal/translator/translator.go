// Package translator assigns caller-visible paths to resolved nodes so that no two
// nodes in one listing share a path.
package translator

import (
	"github.com/google/uuid"

	"github.com/wildfs/wildfs/internal/node"
	"github.com/wildfs/wildfs/pkg/utils"
)

// VirtualNodeChecker reports whether a path is an aggregation point of container claims.
type VirtualNodeChecker interface {
	IsVirtualNode(path string) bool
}

// Exposed pairs a node with the path callers see it under.
type Exposed struct {
	Node node.Descriptor
	Path string
}

// PathTranslator maps between absolute node paths and exposed paths.
type PathTranslator interface {
	AssignExposedPaths(nodes []node.Descriptor) []Exposed
	ExposedToAbsolutePath(path string) string
}

// UUIDInDir disambiguates a colliding physical node by appending its container id
// as an extra path segment: /a/b/c becomes /a/b/c/<container uuid>.
//
// The reverse mapping drops a trailing segment that parses as a UUID, so a real file
// whose name is a valid UUID cannot be addressed directly. That loss is accepted.
type UUIDInDir struct {
	resolver VirtualNodeChecker
}

// NewUUIDInDir creates a translator that consults resolver for aggregation points.
func NewUUIDInDir(resolver VirtualNodeChecker) *UUIDInDir {
	return &UUIDInDir{resolver: resolver}
}

// AssignExposedPaths suffixes a physical node when another node in the batch has the
// same absolute path or when its path is also a virtual aggregation point.
// Virtual nodes are always exposed at their absolute path. Order is preserved.
func (t *UUIDInDir) AssignExposedPaths(nodes []node.Descriptor) []Exposed {
	counts := make(map[string]int, len(nodes))
	for _, n := range nodes {
		counts[utils.CleanPath(n.AbsolutePath)]++
	}

	out := make([]Exposed, 0, len(nodes))
	for _, n := range nodes {
		abs := utils.CleanPath(n.AbsolutePath)
		exposed := abs
		if n.IsPhysical() && (counts[abs] > 1 || t.resolver.IsVirtualNode(abs)) {
			exposed = utils.JoinPath(abs, n.Storages.ContainerID.String())
		}
		out = append(out, Exposed{Node: n, Path: exposed})
	}
	return out
}

// ExposedToAbsolutePath reverses AssignExposedPaths.
func (t *UUIDInDir) ExposedToAbsolutePath(path string) string {
	clean := utils.CleanPath(path)
	if _, err := uuid.Parse(utils.BaseName(clean)); err != nil {
		return clean
	}
	parent, ok := utils.ParentPath(clean)
	if !ok {
		return clean
	}
	return parent
}

// Find returns the entry whose exposed path equals path.
func Find(exposed []Exposed, path string) (Exposed, bool) {
	path = utils.CleanPath(path)
	for _, e := range exposed {
		if e.Path == path {
			return e, true
		}
	}
	return Exposed{}, false
}

var _ PathTranslator = (*UUIDInDir)(nil)
