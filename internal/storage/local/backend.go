package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-billy/v5"

	"github.com/wildfs/wildfs/internal/storage"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

// Backend type tags.
const (
	TypeInMemory        = "InMemory"
	TypeLocalFilesystem = "LocalFilesystem"
)

const (
	dirMode  os.FileMode = 0o755
	fileMode os.FileMode = 0o644
)

// MemoryConfig is the storage config of an InMemory backend.
type MemoryConfig struct {
	Volume  string `json:"volume"`
	BaseDir string `json:"base_dir"`
}

// DiskConfig is the storage config of a LocalFilesystem backend.
type DiskConfig struct {
	Root string `json:"root"`
}

// Constructors returns the constructors of both local backend types, sharing
// the volumes of vs.
func Constructors(vs *Volumes, logger *slog.Logger) map[string]storage.Constructor {
	if logger == nil {
		logger = slog.Default()
	}
	return map[string]storage.Constructor{
		TypeInMemory: func(_ context.Context, s types.Storage) (types.Backend, error) {
			var cfg MemoryConfig
			if err := decodeConfig(s.Config, &cfg); err != nil {
				return nil, err
			}
			if cfg.Volume == "" {
				cfg.Volume = s.ID.String()
			}
			return New(vs.Memory(cfg.Volume), cfg.BaseDir, logger)
		},
		TypeLocalFilesystem: func(_ context.Context, s types.Storage) (types.Backend, error) {
			var cfg DiskConfig
			if err := decodeConfig(s.Config, &cfg); err != nil {
				return nil, err
			}
			vol, err := vs.Disk(cfg.Root)
			if err != nil {
				return nil, err
			}
			return New(vol, utils.Separator, logger)
		},
	}
}

func decodeConfig(raw []byte, into interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}
	return nil
}

// Backend serves one storage from a directory of a volume. Within-storage paths
// are placed under the base directory and cannot escape it.
type Backend struct {
	vol    *Volume
	base   string
	logger *slog.Logger
}

// New creates a backend over vol rooted at baseDir, creating baseDir if needed.
func New(vol *Volume, baseDir string, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base := utils.CleanPath(baseDir)

	vol.mu.Lock()
	defer vol.mu.Unlock()
	if err := vol.fs.MkdirAll(base, dirMode); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", base, err)
	}

	return &Backend{
		vol:    vol,
		base:   base,
		logger: logger.With("component", "local-backend", "volume", vol.name, "base_dir", base),
	}, nil
}

func (b *Backend) full(within string) string {
	return utils.SecureJoin(b.base, within)
}

// lock acquires the volume and fails when it is offline.
func (b *Backend) lock() error {
	b.vol.mu.Lock()
	if err := b.vol.available(); err != nil {
		b.vol.mu.Unlock()
		return err
	}
	return nil
}

func (b *Backend) unlock() {
	b.vol.mu.Unlock()
}

func (b *Backend) ReadDir(_ context.Context, path string) ([]string, types.Outcome, error) {
	if err := b.lock(); err != nil {
		return nil, types.OK, err
	}
	defer b.unlock()

	full := b.full(path)
	fi, err := b.vol.stat(full)
	if err != nil {
		return nil, types.OK, err
	}
	if fi == nil {
		return nil, types.NotFound, nil
	}
	if !fi.IsDir() {
		return nil, types.NotADirectory, nil
	}

	entries, err := b.vol.fs.ReadDir(full)
	if err != nil {
		return nil, types.OK, fmt.Errorf("read dir %s: %w", full, err)
	}
	children := make([]string, 0, len(entries))
	for _, e := range entries {
		children = append(children, utils.JoinPath(path, e.Name()))
	}
	return children, types.OK, nil
}

func (b *Backend) Metadata(_ context.Context, path string) (types.Stat, types.Outcome, error) {
	if err := b.lock(); err != nil {
		return types.Stat{}, types.OK, err
	}
	defer b.unlock()

	fi, err := b.vol.stat(b.full(path))
	if err != nil {
		return types.Stat{}, types.OK, err
	}
	if fi == nil {
		return types.Stat{}, types.NotFound, nil
	}
	return toStat(fi), types.OK, nil
}

func (b *Backend) Open(_ context.Context, path string) (types.Descriptor, types.Outcome, error) {
	if err := b.lock(); err != nil {
		return nil, types.OK, err
	}
	defer b.unlock()

	full := b.full(path)
	fi, err := b.vol.stat(full)
	if err != nil {
		return nil, types.OK, err
	}
	if fi == nil {
		return nil, types.NotFound, nil
	}
	if !fi.Mode().IsRegular() {
		return nil, types.NotAFile, nil
	}

	f, err := b.vol.fs.OpenFile(full, os.O_RDWR, 0)
	if err != nil {
		// Files without write permission can still be read.
		f, err = b.vol.fs.OpenFile(full, os.O_RDONLY, 0)
	}
	if err != nil {
		return nil, types.OK, fmt.Errorf("open %s: %w", full, err)
	}
	return b.descriptor(f, full), types.OK, nil
}

// checkParent reports whether the parent of full exists and is a directory.
func (b *Backend) checkParent(full string) (bool, error) {
	parent, ok := utils.ParentPath(full)
	if !ok {
		return false, nil
	}
	fi, err := b.vol.stat(parent)
	if err != nil {
		return false, err
	}
	return fi != nil && fi.IsDir(), nil
}

func (b *Backend) CreateDir(_ context.Context, path string) (types.Outcome, error) {
	if err := b.lock(); err != nil {
		return types.OK, err
	}
	defer b.unlock()

	full := b.full(path)
	fi, err := b.vol.stat(full)
	if err != nil {
		return types.OK, err
	}
	if fi != nil {
		return types.AlreadyExists, nil
	}
	ok, err := b.checkParent(full)
	if err != nil {
		return types.OK, err
	}
	if !ok {
		return types.InvalidParent, nil
	}

	if err := b.vol.fs.MkdirAll(full, dirMode); err != nil {
		return types.OK, fmt.Errorf("create dir %s: %w", full, err)
	}
	b.vol.bump(full)
	b.logger.Debug("Directory created", "path", full)
	return types.OK, nil
}

func (b *Backend) CreateFile(_ context.Context, path string) (types.Descriptor, types.Outcome, error) {
	if err := b.lock(); err != nil {
		return nil, types.OK, err
	}
	defer b.unlock()

	full := b.full(path)
	fi, err := b.vol.stat(full)
	if err != nil {
		return nil, types.OK, err
	}
	if fi != nil {
		return nil, types.AlreadyExists, nil
	}
	ok, err := b.checkParent(full)
	if err != nil {
		return nil, types.OK, err
	}
	if !ok {
		return nil, types.InvalidParent, nil
	}

	f, err := b.vol.fs.OpenFile(full, os.O_RDWR|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return nil, types.OK, fmt.Errorf("create file %s: %w", full, err)
	}
	b.vol.bump(full)
	b.logger.Debug("File created", "path", full)
	return b.descriptor(f, full), types.OK, nil
}

func (b *Backend) RemoveDir(_ context.Context, path string) (types.Outcome, error) {
	if err := b.lock(); err != nil {
		return types.OK, err
	}
	defer b.unlock()

	full := b.full(path)
	if full == utils.Separator {
		return types.RootRemovalNotAllowed, nil
	}
	fi, err := b.vol.stat(full)
	if err != nil {
		return types.OK, err
	}
	if fi == nil {
		return types.NotFound, nil
	}
	if !fi.IsDir() {
		return types.NotADirectory, nil
	}
	entries, err := b.vol.fs.ReadDir(full)
	if err != nil {
		return types.OK, fmt.Errorf("read dir %s: %w", full, err)
	}
	if len(entries) > 0 {
		return types.DirNotEmpty, nil
	}

	if err := b.vol.fs.Remove(full); err != nil {
		return types.OK, fmt.Errorf("remove dir %s: %w", full, err)
	}
	b.vol.bumpTree(full)
	b.logger.Debug("Directory removed", "path", full)
	return types.OK, nil
}

func (b *Backend) RemoveFile(_ context.Context, path string) (types.Outcome, error) {
	if err := b.lock(); err != nil {
		return types.OK, err
	}
	defer b.unlock()

	full := b.full(path)
	fi, err := b.vol.stat(full)
	if err != nil {
		return types.OK, err
	}
	if fi == nil {
		return types.NotFound, nil
	}
	if fi.IsDir() {
		return types.NotAFile, nil
	}

	if err := b.vol.fs.Remove(full); err != nil {
		return types.OK, fmt.Errorf("remove file %s: %w", full, err)
	}
	b.vol.bump(full)
	b.logger.Debug("File removed", "path", full)
	return types.OK, nil
}

func (b *Backend) Rename(_ context.Context, oldPath, newPath string) (types.Outcome, error) {
	if err := b.lock(); err != nil {
		return types.OK, err
	}
	defer b.unlock()

	from, to := b.full(oldPath), b.full(newPath)
	fi, err := b.vol.stat(from)
	if err != nil {
		return types.OK, err
	}
	if fi == nil {
		return types.NotFound, nil
	}
	target, err := b.vol.stat(to)
	if err != nil {
		return types.OK, err
	}
	if target != nil {
		return types.AlreadyExists, nil
	}
	if utils.HasStrictPathPrefix(to, from) {
		return types.SourceIsParentOfTarget, nil
	}
	ok, err := b.checkParent(to)
	if err != nil {
		return types.OK, err
	}
	if !ok {
		return types.NotFound, nil
	}

	if err := b.vol.fs.Rename(from, to); err != nil {
		return types.OK, fmt.Errorf("rename %s to %s: %w", from, to, err)
	}
	b.vol.bumpTree(from)
	b.vol.bumpTree(to)
	b.logger.Debug("Node renamed", "from", from, "to", to)
	return types.OK, nil
}

func (b *Backend) SetPermissions(_ context.Context, path string, perms types.Permissions) (types.Outcome, error) {
	if err := b.lock(); err != nil {
		return types.OK, err
	}
	defer b.unlock()

	full := b.full(path)
	fi, err := b.vol.stat(full)
	if err != nil {
		return types.OK, err
	}
	if fi == nil {
		return types.NotFound, nil
	}
	return b.chmod(full, fi, perms)
}

// chmod applies perms to full. The caller holds the volume lock.
func (b *Backend) chmod(full string, fi os.FileInfo, perms types.Permissions) (types.Outcome, error) {
	ch, ok := b.vol.fs.(billy.Chmod)
	if !ok {
		return types.NotSupported, nil
	}
	perm := fi.Mode().Perm()
	if perms.Readonly {
		perm &^= 0o222
	} else {
		perm |= 0o200
	}
	if err := ch.Chmod(full, fi.Mode()&^os.ModePerm|perm); err != nil {
		return types.OK, fmt.Errorf("chmod %s: %w", full, err)
	}
	return types.OK, nil
}

func (b *Backend) PathExists(_ context.Context, path string) (bool, error) {
	if err := b.lock(); err != nil {
		return false, err
	}
	defer b.unlock()

	fi, err := b.vol.stat(b.full(path))
	if err != nil {
		return false, err
	}
	return fi != nil, nil
}

func (b *Backend) StatFS(_ context.Context, path string) (types.FsStat, types.Outcome, error) {
	if err := b.lock(); err != nil {
		return types.FsStat{}, types.OK, err
	}
	defer b.unlock()

	full := b.full(path)
	fi, err := b.vol.stat(full)
	if err != nil {
		return types.FsStat{}, types.OK, err
	}
	if fi == nil {
		return types.FsStat{}, types.NotFound, nil
	}
	return b.statFS(full)
}

// statFS reports the host filesystem of disk volumes. The caller holds the lock.
func (b *Backend) statFS(full string) (types.FsStat, types.Outcome, error) {
	if b.vol.hostRoot == "" {
		return types.FsStat{}, types.NotSupported, nil
	}
	st, supported, err := hostStatFS(b.vol.hostPath(full))
	if err != nil {
		return types.FsStat{}, types.OK, err
	}
	if !supported {
		return types.FsStat{}, types.NotSupported, nil
	}
	return st, types.OK, nil
}

func toStat(fi os.FileInfo) types.Stat {
	st := types.Stat{
		NodeType:         nodeType(fi.Mode()),
		ModificationTime: types.TimestampFrom(fi.ModTime()),
		Permissions:      types.Permissions{Readonly: fi.Mode().Perm()&0o200 == 0},
	}
	if size := fi.Size(); size > 0 {
		st.Size = uint64(size)
	}
	fillHostTimes(&st, fi)
	return st
}

func nodeType(mode os.FileMode) types.NodeType {
	switch {
	case mode.IsDir():
		return types.NodeTypeDir
	case mode&os.ModeSymlink != 0:
		return types.NodeTypeSymlink
	case mode.IsRegular():
		return types.NodeTypeFile
	default:
		return types.NodeTypeOther
	}
}
