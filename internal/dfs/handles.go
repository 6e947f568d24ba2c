package dfs

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/wildfs/wildfs/internal/events"
	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
)

// Handle operations are measured but never raise events: they go straight to
// the descriptor pinned at open time.
const (
	opRead         events.Operation = "Read"
	opWrite        events.Operation = "Write"
	opSeek         events.Operation = "Seek"
	opSetLength    events.Operation = "SetLength"
	opSync         events.Operation = "Sync"
	opSetTimes     events.Operation = "SetTimes"
	opFileMetadata events.Operation = "FileMetadata"
	opFileStatFs   events.Operation = "FileStatFs"
	opSetFilePerms events.Operation = "SetFilePermissions"
	opClose        events.Operation = "Close"
	opSyncAll      events.Operation = "SyncAll"
)

const (
	directionRead    = "read"
	directionWritten = "write"
)

func (d *DFS) descriptor(h FileHandle) (types.Descriptor, error) {
	desc, ok := d.handles[h]
	if !ok {
		return nil, errors.FileAlreadyClosed()
	}
	return desc, nil
}

// Read reads up to n bytes at the current position. An empty result means end of file.
func (d *DFS) Read(ctx context.Context, h FileHandle, n int) (data []byte, err error) {
	start := time.Now()
	defer func() { d.observe(opRead, start, err) }()

	desc, err := d.descriptor(h)
	if err != nil {
		return nil, err
	}
	data, err = desc.Read(ctx, n)
	if err == nil && d.metrics != nil {
		d.metrics.RecordBytes(directionRead, len(data))
	}
	return data, err
}

// Write writes p at the current position.
func (d *DFS) Write(ctx context.Context, h FileHandle, p []byte) (n int, err error) {
	start := time.Now()
	defer func() { d.observe(opWrite, start, err) }()

	desc, err := d.descriptor(h)
	if err != nil {
		return 0, err
	}
	n, err = desc.Write(ctx, p)
	if err == nil && d.metrics != nil {
		d.metrics.RecordBytes(directionWritten, n)
	}
	return n, err
}

// SeekFromStart moves to an absolute position.
func (d *DFS) SeekFromStart(ctx context.Context, h FileHandle, position uint64) (uint64, error) {
	if position > math.MaxInt64 {
		return 0, errors.SeekError(fmt.Sprintf("position %d out of range", position))
	}
	return d.seek(ctx, h, int64(position), io.SeekStart)
}

// SeekFromCurrent moves relative to the current position.
func (d *DFS) SeekFromCurrent(ctx context.Context, h FileHandle, offset int64) (uint64, error) {
	return d.seek(ctx, h, offset, io.SeekCurrent)
}

// SeekFromEnd moves to remaining bytes before the end of the file.
func (d *DFS) SeekFromEnd(ctx context.Context, h FileHandle, remaining uint64) (uint64, error) {
	if remaining > math.MaxInt64 {
		return 0, errors.SeekError(fmt.Sprintf("offset %d out of range", remaining))
	}
	return d.seek(ctx, h, -int64(remaining), io.SeekEnd)
}

func (d *DFS) seek(ctx context.Context, h FileHandle, offset int64, whence int) (pos uint64, err error) {
	start := time.Now()
	defer func() { d.observe(opSeek, start, err) }()

	desc, err := d.descriptor(h)
	if err != nil {
		return 0, err
	}
	p, err := desc.Seek(ctx, offset, whence)
	if err != nil {
		return 0, err
	}
	if p < 0 {
		return 0, errors.SeekError(fmt.Sprintf("negative position %d", p))
	}
	return uint64(p), nil
}

// SetLength truncates or extends the file.
func (d *DFS) SetLength(ctx context.Context, h FileHandle, length uint64) (err error) {
	start := time.Now()
	defer func() { d.observe(opSetLength, start, err) }()

	desc, err := d.descriptor(h)
	if err != nil {
		return err
	}
	return desc.SetLength(ctx, length)
}

// Sync flushes the file to its storage.
func (d *DFS) Sync(ctx context.Context, h FileHandle) (err error) {
	start := time.Now()
	defer func() { d.observe(opSync, start, err) }()

	desc, err := d.descriptor(h)
	if err != nil {
		return err
	}
	return desc.Sync(ctx)
}

// SetTimes sets the access and modification times. A nil time is left unchanged.
func (d *DFS) SetTimes(ctx context.Context, h FileHandle, atime, mtime *time.Time) (err error) {
	start := time.Now()
	defer func() { d.observe(opSetTimes, start, err) }()

	desc, err := d.descriptor(h)
	if err != nil {
		return err
	}
	return desc.SetTimes(ctx, atime, mtime)
}

// FileMetadata returns the attributes of an open file.
func (d *DFS) FileMetadata(ctx context.Context, h FileHandle) (st types.Stat, err error) {
	start := time.Now()
	defer func() { d.observe(opFileMetadata, start, err) }()

	desc, err := d.descriptor(h)
	if err != nil {
		return types.Stat{}, err
	}
	return desc.Metadata(ctx)
}

// FileStatFS returns the statistics of the filesystem holding an open file.
func (d *DFS) FileStatFS(ctx context.Context, h FileHandle) (fs types.FsStat, err error) {
	start := time.Now()
	defer func() { d.observe(opFileStatFs, start, err) }()

	desc, err := d.descriptor(h)
	if err != nil {
		return types.FsStat{}, err
	}
	return desc.StatFS(ctx)
}

// SetFilePermissions changes the permissions of an open file.
func (d *DFS) SetFilePermissions(ctx context.Context, h FileHandle, perms types.Permissions) (err error) {
	start := time.Now()
	defer func() { d.observe(opSetFilePerms, start, err) }()

	desc, err := d.descriptor(h)
	if err != nil {
		return err
	}
	return desc.SetPermissions(ctx, perms)
}

// Close closes the file. The handle is released even when the descriptor
// fails to close, and every later use of it fails with FILE_ALREADY_CLOSED.
func (d *DFS) Close(ctx context.Context, h FileHandle) (err error) {
	start := time.Now()
	defer func() { d.observe(opClose, start, err) }()

	desc, err := d.descriptor(h)
	if err != nil {
		return err
	}
	delete(d.handles, h)
	d.updateHandleGauge()
	return desc.Close(ctx)
}

// SyncAll syncs every open file and returns the joined failures.
func (d *DFS) SyncAll(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { d.observe(opSyncAll, start, err) }()

	var errs []error
	for h, desc := range d.handles {
		if err := desc.Sync(ctx); err != nil {
			d.logger.Error("Failed to sync handle", "handle", h.String(), "error", err)
			errs = append(errs, fmt.Errorf("handle %s: %w", h, err))
		}
	}
	return stderrors.Join(errs...)
}
