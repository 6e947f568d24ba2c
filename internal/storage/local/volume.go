// Package local implements storage backends on top of go-billy filesystems:
// an in-memory one (memfs) and one rooted in a host directory (osfs).
package local

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/wildfs/wildfs/pkg/utils"
)

// Volume is a filesystem shared by every backend built on it. All access goes
// through its mutex; memfs is not safe for concurrent use.
type Volume struct {
	name     string
	fs       billy.Filesystem
	hostRoot string

	mu       sync.Mutex
	versions map[string]uint64
	offline  bool
}

func newVolume(name string, fsys billy.Filesystem, hostRoot string) *Volume {
	return &Volume{
		name:     name,
		fs:       fsys,
		hostRoot: hostRoot,
		versions: make(map[string]uint64),
	}
}

// Name returns the volume name, or the host root for disk volumes.
func (v *Volume) Name() string {
	return v.name
}

// SetOffline makes every operation on the volume fail until it is brought back.
func (v *Volume) SetOffline(offline bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.offline = offline
}

// Paths lists every node of the volume in sorted order.
func (v *Volume) Paths() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []string
	var walk func(dir string)
	walk = func(dir string) {
		entries, err := v.fs.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			p := utils.JoinPath(dir, e.Name())
			out = append(out, p)
			if e.IsDir() {
				walk(p)
			}
		}
	}
	walk(utils.Separator)
	sort.Strings(out)
	return out
}

func (v *Volume) available() error {
	if v.offline {
		return fmt.Errorf("volume %s is offline", v.name)
	}
	return nil
}

// stat returns the node at p. A missing node yields (nil, nil).
func (v *Volume) stat(p string) (os.FileInfo, error) {
	fi, err := v.fs.Stat(p)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return fi, nil
}

func (v *Volume) version(p string) uint64 {
	return v.versions[p]
}

func (v *Volume) bump(p string) uint64 {
	v.versions[p]++
	return v.versions[p]
}

// bumpTree invalidates p and every tracked path below it.
func (v *Volume) bumpTree(p string) {
	v.bump(p)
	for tracked := range v.versions {
		if utils.HasStrictPathPrefix(tracked, p) {
			v.versions[tracked]++
		}
	}
}

func (v *Volume) hostPath(p string) string {
	return filepath.Join(v.hostRoot, filepath.FromSlash(p))
}

func isNotExist(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || stderrors.Is(err, syscall.ENOTDIR)
}

// Volumes hands out shared volumes by name. Two storages naming the same
// volume see the same files.
type Volumes struct {
	mu     sync.Mutex
	memory map[string]*Volume
	disk   map[string]*Volume
}

// NewVolumes creates an empty volume set.
func NewVolumes() *Volumes {
	return &Volumes{
		memory: make(map[string]*Volume),
		disk:   make(map[string]*Volume),
	}
}

// Memory returns the in-memory volume called name, creating it on first use.
func (vs *Volumes) Memory(name string) *Volume {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if v, ok := vs.memory[name]; ok {
		return v
	}
	v := newVolume(name, memfs.New(), "")
	vs.memory[name] = v
	return v
}

// Disk returns the volume rooted at the host directory root, creating the
// directory when it does not exist.
func (vs *Volumes) Disk(root string) (*Volume, error) {
	if root == "" {
		return nil, fmt.Errorf("disk volume requires a root directory")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	if v, ok := vs.disk[abs]; ok {
		return v, nil
	}
	fsys := osfs.New(abs)
	if err := fsys.MkdirAll(utils.Separator, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", abs, err)
	}
	v := newVolume(abs, fsys, abs)
	vs.disk[abs] = v
	return v, nil
}
