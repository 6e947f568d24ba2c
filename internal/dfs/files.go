package dfs

import (
	"context"
	stderrors "errors"
	"io"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/internal/buffer"
	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/utils"
)

// ChunkSize bounds each read and write ReadFile and WriteFile issue against a handle.
const ChunkSize = 64 * 1024

// ReadFile opens path, reads it to the end and closes it.
func (d *DFS) ReadFile(ctx context.Context, path string) (data []byte, err error) {
	h, err := d.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := d.Close(ctx, h); err == nil {
			err = cerr
		}
	}()

	data = []byte{}
	for {
		chunk, err := d.Read(ctx, h, ChunkSize)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return data, nil
		}
		data = append(data, chunk...)
	}
}

// WriteFile replaces the content of path with everything read from r. The file
// is created when absent and truncated otherwise; created reports which. A
// disambiguated entry of a colliding file is opened when it cannot be created.
func (d *DFS) WriteFile(ctx context.Context, path string, r io.Reader) (created bool, written int64, err error) {
	h, err := d.CreateFile(ctx, path)
	if err == nil {
		created = true
	} else {
		exists := errors.HasCode(err, errors.ErrCodePathAlreadyExists)
		if !exists && !namesEntry(path) {
			return false, 0, err
		}
		createErr := err
		if h, err = d.Open(ctx, path); err != nil {
			if exists {
				return false, 0, err
			}
			return false, 0, createErr
		}
		if err = d.SetLength(ctx, h, 0); err != nil {
			_ = d.Close(ctx, h)
			return false, 0, err
		}
	}
	defer func() {
		if cerr := d.Close(ctx, h); err == nil {
			err = cerr
		}
	}()

	buf := buffer.Get(ChunkSize)
	defer buffer.Put(buf)
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if _, err = d.Write(ctx, h, buf[:n]); err != nil {
				return created, written, err
			}
			written += int64(n)
		}
		if stderrors.Is(rerr, io.EOF) || stderrors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return created, written, errors.Genericf("failed to read input for %s", path).WithCause(rerr)
		}
	}

	return created, written, d.Sync(ctx, h)
}

// namesEntry reports whether the last segment of path parses as a uuid, as the
// entries of colliding files do.
func namesEntry(path string) bool {
	_, err := uuid.Parse(utils.BaseName(utils.CleanPath(path)))
	return err == nil
}
