package s3

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/wildfs/wildfs/pkg/retry"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

// Backend implements types.Backend over one bucket prefix.
type Backend struct {
	api    API
	config Config
	retry  *retry.Retryer
	logger *slog.Logger
	now    func() time.Time

	// mu serializes tree read-modify-write cycles of this process.
	mu sync.Mutex
}

// New creates a backend. It does not contact S3.
func New(api API, cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		api:    api,
		config: cfg,
		retry:  retry.New(retry.DefaultConfig()).WithClassifier(isTransient),
		logger: logger.With("component", "s3-backend", "bucket", cfg.Bucket, "prefix", cfg.Prefix),
		now:    time.Now,
	}
}

// HealthCheck verifies the bucket is reachable
func (b *Backend) HealthCheck(ctx context.Context) error {
	_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.config.Bucket)})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

// load fetches the tree and its ETag. A missing tree object is an empty tree
// with an empty ETag.
func (b *Backend) load(ctx context.Context) (*tree, string, error) {
	var (
		t    *tree
		etag string
	)
	err := b.retry.Do(ctx, func(ctx context.Context) error {
		out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.config.Bucket),
			Key:    aws.String(b.config.metadataKey()),
		})
		if err != nil {
			if isNoSuchKey(err) {
				t, etag = newTree(b.now()), ""
				return nil
			}
			return err
		}
		defer out.Body.Close()

		data, err := io.ReadAll(out.Body)
		if err != nil {
			return fmt.Errorf("failed to read tree object: %w", err)
		}
		var loaded tree
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("corrupt tree object: %w", err)
		}
		if loaded.Root == nil || !loaded.Root.isDir() {
			return fmt.Errorf("corrupt tree object: missing root directory")
		}
		t, etag = &loaded, aws.ToString(out.ETag)
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("load tree: %w", err)
	}
	return t, etag, nil
}

// commitAttempts bounds how often update reapplies its edit after another
// writer committed the tree first.
const commitAttempts = 3

var errTreeChanged = stderrors.New("tree changed by another writer")

// commit writes t back, conditional on the tree still carrying etag.
func (b *Backend) commit(ctx context.Context, t *tree, etag string) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}
	err = b.retry.Do(ctx, func(ctx context.Context) error {
		in := &s3.PutObjectInput{
			Bucket:        aws.String(b.config.Bucket),
			Key:           aws.String(b.config.metadataKey()),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String("application/json"),
		}
		if etag == "" {
			in.IfNoneMatch = aws.String("*")
		} else {
			in.IfMatch = aws.String(etag)
		}
		_, err := b.api.PutObject(ctx, in)
		return err
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("%w: %w", errTreeChanged, err)
		}
		return fmt.Errorf("commit tree: %w", err)
	}
	return nil
}

// view runs fn on a freshly loaded tree.
func (b *Backend) view(ctx context.Context, fn func(*tree) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, _, err := b.load(ctx)
	if err != nil {
		return err
	}
	return fn(t)
}

// update runs fn on a freshly loaded tree and commits it when fn reports OK.
// When another writer commits first, fn is reapplied to the new tree.
func (b *Backend) update(ctx context.Context, fn func(*tree) (types.Outcome, error)) (types.Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for attempt := 1; ; attempt++ {
		t, etag, err := b.load(ctx)
		if err != nil {
			return types.OK, err
		}
		outcome, err := fn(t)
		if err != nil || outcome != types.OK {
			return outcome, err
		}
		err = b.commit(ctx, t, etag)
		if stderrors.Is(err, errTreeChanged) && attempt < commitAttempts {
			b.logger.Debug("Tree changed during update, retrying", "attempt", attempt)
			continue
		}
		return types.OK, err
	}
}

func (b *Backend) ReadDir(ctx context.Context, path string) ([]string, types.Outcome, error) {
	var (
		children []string
		outcome  types.Outcome
	)
	err := b.view(ctx, func(t *tree) error {
		e := t.lookup(path)
		switch {
		case e == nil:
			outcome = types.NotFound
		case !e.isDir():
			outcome = types.NotADirectory
		default:
			for name := range e.Children {
				children = append(children, utils.JoinPath(path, name))
			}
			sort.Strings(children)
		}
		return nil
	})
	return children, outcome, err
}

func (b *Backend) Metadata(ctx context.Context, path string) (types.Stat, types.Outcome, error) {
	var (
		st      types.Stat
		outcome types.Outcome
	)
	err := b.view(ctx, func(t *tree) error {
		if e := t.lookup(path); e != nil {
			st = e.stat()
		} else {
			outcome = types.NotFound
		}
		return nil
	})
	return st, outcome, err
}

func (b *Backend) Open(ctx context.Context, path string) (types.Descriptor, types.Outcome, error) {
	var (
		d       *descriptor
		outcome types.Outcome
	)
	err := b.view(ctx, func(t *tree) error {
		e := t.lookup(path)
		switch {
		case e == nil:
			outcome = types.NotFound
		case e.isDir():
			outcome = types.NotAFile
		default:
			d = b.descriptor(path, e)
		}
		return nil
	})
	if d == nil {
		return nil, outcome, err
	}
	return d, outcome, err
}

func (b *Backend) CreateDir(ctx context.Context, path string) (types.Outcome, error) {
	return b.update(ctx, func(t *tree) (types.Outcome, error) {
		if t.lookup(path) != nil {
			return types.AlreadyExists, nil
		}
		dir, name := t.parent(path)
		if dir == nil {
			return types.InvalidParent, nil
		}
		now := b.now()
		dir.Children[name] = newDir(now)
		dir.ModTime = now.UnixNano()
		return types.OK, nil
	})
}

func (b *Backend) CreateFile(ctx context.Context, path string) (types.Descriptor, types.Outcome, error) {
	var d *descriptor
	outcome, err := b.update(ctx, func(t *tree) (types.Outcome, error) {
		if t.lookup(path) != nil {
			return types.AlreadyExists, nil
		}
		dir, name := t.parent(path)
		if dir == nil {
			return types.InvalidParent, nil
		}

		object := uuid.NewString()
		etag, err := b.putContent(ctx, object, nil, "")
		if err != nil {
			return types.OK, err
		}
		now := b.now()
		e := &entry{Kind: kindFile, Object: object, ETag: etag, ModTime: now.UnixNano(), ATime: now.UnixNano()}
		dir.Children[name] = e
		dir.ModTime = now.UnixNano()
		d = b.descriptor(path, e)
		return types.OK, nil
	})
	if err != nil || outcome != types.OK {
		return nil, outcome, err
	}
	return d, outcome, nil
}

func (b *Backend) RemoveDir(ctx context.Context, path string) (types.Outcome, error) {
	return b.update(ctx, func(t *tree) (types.Outcome, error) {
		if utils.CleanPath(path) == utils.Separator {
			return types.RootRemovalNotAllowed, nil
		}
		e := t.lookup(path)
		switch {
		case e == nil:
			return types.NotFound, nil
		case !e.isDir():
			return types.NotADirectory, nil
		case len(e.Children) > 0:
			return types.DirNotEmpty, nil
		}
		dir, name := t.parent(path)
		delete(dir.Children, name)
		dir.ModTime = b.now().UnixNano()
		return types.OK, nil
	})
}

func (b *Backend) RemoveFile(ctx context.Context, path string) (types.Outcome, error) {
	var object string
	outcome, err := b.update(ctx, func(t *tree) (types.Outcome, error) {
		e := t.lookup(path)
		switch {
		case e == nil:
			return types.NotFound, nil
		case e.isDir():
			return types.NotAFile, nil
		}
		dir, name := t.parent(path)
		delete(dir.Children, name)
		dir.ModTime = b.now().UnixNano()
		object = e.Object
		return types.OK, nil
	})
	if err != nil || outcome != types.OK {
		return outcome, err
	}

	// The tree no longer references the object; a failed delete only leaks it.
	if _, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.config.objectKey(object)),
	}); err != nil && !isNoSuchKey(err) {
		b.logger.Warn("Failed to delete content object", "object", object, "error", err)
	}
	return types.OK, nil
}

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) (types.Outcome, error) {
	return b.update(ctx, func(t *tree) (types.Outcome, error) {
		e := t.lookup(oldPath)
		if e == nil {
			return types.NotFound, nil
		}
		if t.lookup(newPath) != nil {
			return types.AlreadyExists, nil
		}
		if utils.HasStrictPathPrefix(newPath, oldPath) {
			return types.SourceIsParentOfTarget, nil
		}
		to, toName := t.parent(newPath)
		if to == nil {
			return types.NotFound, nil
		}
		from, fromName := t.parent(oldPath)
		if from == nil {
			return types.NotFound, nil
		}

		delete(from.Children, fromName)
		to.Children[toName] = e
		now := b.now().UnixNano()
		from.ModTime, to.ModTime = now, now
		return types.OK, nil
	})
}

func (b *Backend) SetPermissions(ctx context.Context, path string, perms types.Permissions) (types.Outcome, error) {
	return b.update(ctx, func(t *tree) (types.Outcome, error) {
		e := t.lookup(path)
		if e == nil {
			return types.NotFound, nil
		}
		e.Readonly = perms.Readonly
		return types.OK, nil
	})
}

func (b *Backend) PathExists(ctx context.Context, path string) (bool, error) {
	exists := false
	err := b.view(ctx, func(t *tree) error {
		exists = t.lookup(path) != nil
		return nil
	})
	return exists, err
}

// StatFS is not meaningful for object storage.
func (b *Backend) StatFS(ctx context.Context, path string) (types.FsStat, types.Outcome, error) {
	exists, err := b.PathExists(ctx, path)
	if err != nil {
		return types.FsStat{}, types.OK, err
	}
	if !exists {
		return types.FsStat{}, types.NotFound, nil
	}
	return types.FsStat{}, types.NotSupported, nil
}

// putContent stores data as object. An empty ifMatch creates the object and
// fails if it already exists.
func (b *Backend) putContent(ctx context.Context, object string, data []byte, ifMatch string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(b.config.Bucket),
		Key:           aws.String(b.config.objectKey(object)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	}
	if ifMatch == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(ifMatch)
	}
	out, err := b.api.PutObject(ctx, in)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ETag), nil
}

// getContent reads object, optionally a byte range of it, if it still has etag.
func (b *Backend) getContent(ctx context.Context, object, etag, byteRange string) ([]byte, error) {
	in := &s3.GetObjectInput{
		Bucket:  aws.String(b.config.Bucket),
		Key:     aws.String(b.config.objectKey(object)),
		IfMatch: aws.String(etag),
	}
	if byteRange != "" {
		in.Range = aws.String(byteRange)
	}
	out, err := b.api.GetObject(ctx, in)
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
