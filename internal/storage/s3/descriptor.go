package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
)

// descriptor is an open file. It is pinned to the content object and ETag it
// observed; a replaced or deleted object fails the next access.
type descriptor struct {
	backend *Backend
	path    string
	object  string
	etag    string
	size    int64
	pos     int64
	closed  bool
}

func (b *Backend) descriptor(path string, e *entry) *descriptor {
	return &descriptor{backend: b, path: path, object: e.Object, etag: e.ETag, size: int64(e.Size)}
}

func (d *descriptor) check() error {
	if d.closed {
		return errors.FileAlreadyClosed()
	}
	return nil
}

// classify turns precondition, missing-object and lost tree commit failures
// into CONCURRENT_ISSUE.
func (d *descriptor) classify(err error) error {
	if isPreconditionFailed(err) || isNoSuchKey(err) || stderrors.Is(err, errTreeChanged) {
		return errors.ConcurrentIssue(d.path).WithCause(err)
	}
	return err
}

// current returns the tree entry of the file if it still refers to the object
// and version this descriptor holds.
func (d *descriptor) current(t *tree) (*entry, error) {
	e := t.lookup(d.path)
	if e == nil || e.isDir() || e.Object != d.object || e.ETag != d.etag {
		return nil, errors.ConcurrentIssue(d.path)
	}
	return e, nil
}

func (d *descriptor) Read(ctx context.Context, n int) ([]byte, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Genericf("invalid read size %d", n)
	}
	if n == 0 {
		return []byte{}, nil
	}

	byteRange := fmt.Sprintf("bytes=%d-%d", d.pos, d.pos+int64(n)-1)
	data, err := d.backend.getContent(ctx, d.object, d.etag, byteRange)
	if err != nil {
		if isInvalidRange(err) {
			return []byte{}, nil
		}
		return nil, d.classify(err)
	}
	if len(data) > n {
		data = data[:n]
	}
	d.pos += int64(len(data))
	return data, nil
}

// rewrite replaces the content with edit(old) and records the new version in the tree.
func (d *descriptor) rewrite(ctx context.Context, edit func([]byte) []byte) error {
	old, err := d.backend.getContent(ctx, d.object, d.etag, "")
	if err != nil {
		return d.classify(err)
	}
	data := edit(old)
	etag, err := d.backend.putContent(ctx, d.object, data, d.etag)
	if err != nil {
		return d.classify(err)
	}

	_, err = d.backend.update(ctx, func(t *tree) (types.Outcome, error) {
		e, err := d.current(t)
		if err != nil {
			return types.OK, err
		}
		e.ETag = etag
		e.Size = uint64(len(data))
		e.ModTime = d.backend.now().UnixNano()
		return types.OK, nil
	})
	if err != nil {
		return d.classify(err)
	}
	d.etag = etag
	d.size = int64(len(data))
	return nil
}

func (d *descriptor) Write(ctx context.Context, p []byte) (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	pos := d.pos
	err := d.rewrite(ctx, func(old []byte) []byte {
		end := pos + int64(len(p))
		if end < int64(len(old)) {
			end = int64(len(old))
		}
		data := make([]byte, end)
		copy(data, old)
		copy(data[pos:], p)
		return data
	})
	if err != nil {
		return 0, err
	}
	d.pos += int64(len(p))
	return len(p), nil
}

func (d *descriptor) Seek(_ context.Context, offset int64, whence int) (int64, error) {
	if err := d.check(); err != nil {
		return 0, err
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = d.pos + offset
	case io.SeekEnd:
		pos = d.size + offset
	default:
		return 0, errors.SeekError(fmt.Sprintf("invalid whence %d", whence))
	}
	if pos < 0 {
		return 0, errors.SeekError(fmt.Sprintf("negative position %d", pos))
	}
	d.pos = pos
	return pos, nil
}

func (d *descriptor) SetLength(ctx context.Context, length uint64) error {
	if err := d.check(); err != nil {
		return err
	}
	return d.rewrite(ctx, func(old []byte) []byte {
		data := make([]byte, length)
		copy(data, old)
		return data
	})
}

// Sync has nothing to flush: every write is a completed PutObject.
func (d *descriptor) Sync(ctx context.Context) error {
	if err := d.check(); err != nil {
		return err
	}
	return d.backend.view(ctx, func(t *tree) error {
		_, err := d.current(t)
		return err
	})
}

func (d *descriptor) SetTimes(ctx context.Context, atime, mtime *time.Time) error {
	if err := d.check(); err != nil {
		return err
	}
	_, err := d.backend.update(ctx, func(t *tree) (types.Outcome, error) {
		e, err := d.current(t)
		if err != nil {
			return types.OK, err
		}
		if atime != nil {
			e.ATime = atime.UnixNano()
		}
		if mtime != nil {
			e.ModTime = mtime.UnixNano()
		}
		return types.OK, nil
	})
	return d.classify(err)
}

func (d *descriptor) Metadata(ctx context.Context) (types.Stat, error) {
	if err := d.check(); err != nil {
		return types.Stat{}, err
	}
	var st types.Stat
	err := d.backend.view(ctx, func(t *tree) error {
		e, err := d.current(t)
		if err != nil {
			return err
		}
		st = e.stat()
		return nil
	})
	return st, err
}

func (d *descriptor) StatFS(context.Context) (types.FsStat, error) {
	if err := d.check(); err != nil {
		return types.FsStat{}, err
	}
	return types.FsStat{}, errors.Generic("filesystem statistics are not supported by S3 storages")
}

func (d *descriptor) SetPermissions(ctx context.Context, perms types.Permissions) error {
	if err := d.check(); err != nil {
		return err
	}
	_, err := d.backend.update(ctx, func(t *tree) (types.Outcome, error) {
		e, err := d.current(t)
		if err != nil {
			return types.OK, err
		}
		e.Readonly = perms.Readonly
		return types.OK, nil
	})
	return d.classify(err)
}

func (d *descriptor) Close(context.Context) error {
	if d.closed {
		return errors.FileAlreadyClosed()
	}
	d.closed = true
	return nil
}
