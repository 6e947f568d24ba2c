package local

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
)

// descriptor is an open file of a volume. It remembers the version of the file
// it last observed; any change made through another descriptor or the backend
// turns subsequent operations into CONCURRENT_ISSUE.
type descriptor struct {
	backend *Backend
	file    billy.File
	path    string
	version uint64
	closed  bool
}

func (b *Backend) descriptor(f billy.File, full string) *descriptor {
	return &descriptor{backend: b, file: f, path: full, version: b.vol.version(full)}
}

// begin locks the volume and validates the descriptor.
func (d *descriptor) begin() error {
	if err := d.backend.lock(); err != nil {
		return err
	}
	if d.closed {
		d.backend.unlock()
		return errors.FileAlreadyClosed()
	}
	if d.backend.vol.version(d.path) != d.version {
		d.backend.unlock()
		return errors.ConcurrentIssue(d.path)
	}
	return nil
}

func (d *descriptor) modified() {
	d.version = d.backend.vol.bump(d.path)
}

func (d *descriptor) Read(_ context.Context, n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Genericf("invalid read size %d", n)
	}
	if err := d.begin(); err != nil {
		return nil, err
	}
	defer d.backend.unlock()

	buf := make([]byte, n)
	m, err := io.ReadFull(d.file, buf)
	if err != nil && !stderrors.Is(err, io.EOF) && !stderrors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read %s: %w", d.path, err)
	}
	return buf[:m], nil
}

func (d *descriptor) Write(_ context.Context, p []byte) (int, error) {
	if err := d.begin(); err != nil {
		return 0, err
	}
	defer d.backend.unlock()

	n, err := d.file.Write(p)
	if n > 0 {
		d.modified()
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", d.path, err)
	}
	return n, nil
}

func (d *descriptor) Seek(_ context.Context, offset int64, whence int) (int64, error) {
	if err := d.begin(); err != nil {
		return 0, err
	}
	defer d.backend.unlock()

	prev, err := d.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, errors.SeekError(err.Error())
	}
	pos, err := d.file.Seek(offset, whence)
	if err != nil {
		return 0, errors.SeekError(err.Error())
	}
	if pos < 0 {
		// memfs accepts negative positions; restore the previous one.
		if _, err := d.file.Seek(prev, io.SeekStart); err != nil {
			return 0, errors.SeekError(err.Error())
		}
		return 0, errors.SeekError(fmt.Sprintf("negative position %d", pos))
	}
	return pos, nil
}

func (d *descriptor) SetLength(_ context.Context, length uint64) error {
	if err := d.begin(); err != nil {
		return err
	}
	defer d.backend.unlock()

	if err := d.file.Truncate(int64(length)); err != nil {
		return fmt.Errorf("truncate %s: %w", d.path, err)
	}
	d.modified()
	return nil
}

func (d *descriptor) Sync(_ context.Context) error {
	if err := d.begin(); err != nil {
		return err
	}
	defer d.backend.unlock()

	if s, ok := d.file.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", d.path, err)
		}
	}
	return nil
}

func (d *descriptor) SetTimes(_ context.Context, atime, mtime *time.Time) error {
	if err := d.begin(); err != nil {
		return err
	}
	defer d.backend.unlock()

	if d.backend.vol.hostRoot == "" {
		return errors.Generic("setting times is not supported by in-memory volumes")
	}
	var a, m time.Time
	if atime != nil {
		a = *atime
	}
	if mtime != nil {
		m = *mtime
	}
	if err := os.Chtimes(d.backend.vol.hostPath(d.path), a, m); err != nil {
		return fmt.Errorf("chtimes %s: %w", d.path, err)
	}
	return nil
}

func (d *descriptor) Metadata(_ context.Context) (types.Stat, error) {
	if err := d.begin(); err != nil {
		return types.Stat{}, err
	}
	defer d.backend.unlock()

	fi, err := d.backend.vol.stat(d.path)
	if err != nil {
		return types.Stat{}, err
	}
	if fi == nil {
		return types.Stat{}, errors.ConcurrentIssue(d.path)
	}
	return toStat(fi), nil
}

func (d *descriptor) StatFS(_ context.Context) (types.FsStat, error) {
	if err := d.begin(); err != nil {
		return types.FsStat{}, err
	}
	defer d.backend.unlock()

	st, outcome, err := d.backend.statFS(d.path)
	if err != nil {
		return types.FsStat{}, err
	}
	if outcome == types.NotSupported {
		return types.FsStat{}, errors.Generic("filesystem statistics are not supported by in-memory volumes")
	}
	return st, nil
}

func (d *descriptor) SetPermissions(_ context.Context, perms types.Permissions) error {
	if err := d.begin(); err != nil {
		return err
	}
	defer d.backend.unlock()

	fi, err := d.backend.vol.stat(d.path)
	if err != nil {
		return err
	}
	if fi == nil {
		return errors.ConcurrentIssue(d.path)
	}
	outcome, err := d.backend.chmod(d.path, fi, perms)
	if err != nil {
		return err
	}
	if outcome == types.NotSupported {
		return errors.Generic("permissions are not supported by this volume")
	}
	return nil
}

// Close releases the file. It is not subject to the version check, so a file
// changed elsewhere can still be closed.
func (d *descriptor) Close(_ context.Context) error {
	d.backend.vol.mu.Lock()
	defer d.backend.vol.mu.Unlock()

	if d.closed {
		return errors.FileAlreadyClosed()
	}
	d.closed = true
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", d.path, err)
	}
	return nil
}
