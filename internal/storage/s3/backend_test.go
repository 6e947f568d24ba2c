package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
)

type fakeObject struct {
	data []byte
	etag string
}

// fakeS3 is an in-memory bucket honouring IfMatch, IfNoneMatch and Range.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	versions int
	throttle int
	down     bool

	// conflicts makes the next conditional puts of conflictKey lose a race
	// against another writer.
	conflictKey string
	conflicts   int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]fakeObject{}}
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.down {
		return nil, fmt.Errorf("connection refused")
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.throttle > 0 {
		f.throttle--
		return nil, apiError("SlowDown")
	}
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	if in.IfMatch != nil && *in.IfMatch != obj.etag {
		return nil, apiError("PreconditionFailed")
	}

	data := obj.data
	if in.Range != nil {
		spec := strings.TrimPrefix(*in.Range, "bytes=")
		parts := strings.SplitN(spec, "-", 2)
		start, _ := strconv.Atoi(parts[0])
		end, _ := strconv.Atoi(parts[1])
		if start >= len(data) {
			return nil, apiError("InvalidRange")
		}
		if end >= len(data) {
			end = len(data) - 1
		}
		data = data[start : end+1]
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
		ETag: aws.String(obj.etag),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(in.Key)
	obj, exists := f.objects[key]
	if exists && key == f.conflictKey && f.conflicts > 0 {
		f.conflicts--
		f.versions++
		obj.etag = fmt.Sprintf("\"v%d\"", f.versions)
		f.objects[key] = obj
	}
	if aws.ToString(in.IfNoneMatch) == "*" && exists {
		return nil, apiError("PreconditionFailed")
	}
	if in.IfMatch != nil && (!exists || *in.IfMatch != obj.etag) {
		return nil, apiError("PreconditionFailed")
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.versions++
	etag := fmt.Sprintf("\"v%d\"", f.versions)
	f.objects[key] = fakeObject{data: data, etag: etag}
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}

func newBackend(api *fakeS3) *Backend {
	return New(api, Config{Bucket: "bucket", Prefix: "p/"}, nil)
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"minimal", `{"bucket":"b"}`, false},
		{"missing bucket", `{"region":"eu-west-1"}`, true},
		{"half credentials", `{"bucket":"b","access_key_id":"AKIA"}`, true},
		{"absolute prefix", `{"bucket":"b","prefix":"/x"}`, true},
		{"bad json", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConstructorHealthCheck(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	c := Constructor(nil, func(context.Context, Config) (API, error) { return api, nil })
	s := types.Storage{ID: uuid.New(), BackendType: TypeS3, Config: []byte(`{"bucket":"b"}`)}

	_, err := c(ctx, s)
	require.NoError(t, err)

	api.down = true
	_, err = c(ctx, s)
	assert.Error(t, err)
}

func TestTreeOperations(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	b := newBackend(api)

	outcome, err := b.CreateDir(ctx, "/docs")
	require.NoError(t, err)
	require.Equal(t, types.OK, outcome)

	f, outcome, err := b.CreateFile(ctx, "/docs/a.txt")
	require.NoError(t, err)
	require.Equal(t, types.OK, outcome)
	require.NoError(t, f.Close(ctx))

	tests := []struct {
		name string
		run  func() (types.Outcome, error)
		want types.Outcome
	}{
		{"existing dir", func() (types.Outcome, error) { return b.CreateDir(ctx, "/docs") }, types.AlreadyExists},
		{"missing parent", func() (types.Outcome, error) { return b.CreateDir(ctx, "/x/y") }, types.InvalidParent},
		{"non-empty dir", func() (types.Outcome, error) { return b.RemoveDir(ctx, "/docs") }, types.DirNotEmpty},
		{"dir as file", func() (types.Outcome, error) { return b.RemoveFile(ctx, "/docs") }, types.NotAFile},
		{"file as dir", func() (types.Outcome, error) { return b.RemoveDir(ctx, "/docs/a.txt") }, types.NotADirectory},
		{"root", func() (types.Outcome, error) { return b.RemoveDir(ctx, "/") }, types.RootRemovalNotAllowed},
		{"rename into itself", func() (types.Outcome, error) { return b.Rename(ctx, "/docs", "/docs/sub") }, types.SourceIsParentOfTarget},
		{"rename missing", func() (types.Outcome, error) { return b.Rename(ctx, "/nope", "/z") }, types.NotFound},
		{"rename", func() (types.Outcome, error) { return b.Rename(ctx, "/docs/a.txt", "/b.txt") }, types.OK},
		{"remove file", func() (types.Outcome, error) { return b.RemoveFile(ctx, "/b.txt") }, types.OK},
		{"remove dir", func() (types.Outcome, error) { return b.RemoveDir(ctx, "/docs") }, types.OK},
	}
	for _, tt := range tests {
		outcome, err := tt.run()
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, outcome, tt.name)
	}

	children, outcome, err := b.ReadDir(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, types.OK, outcome)
	assert.Empty(t, children)
	assert.Equal(t, []string{"p/.wildfs/filesystem.json"}, api.keys(), "content objects must be deleted")
}

func TestTreeIsSharedThroughTheBucket(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()

	_, err := newBackend(api).CreateDir(ctx, "/shared")
	require.NoError(t, err)

	children, outcome, err := newBackend(api).ReadDir(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, types.OK, outcome)
	assert.Equal(t, []string{"/shared"}, children)

	_, outcome, err = newBackend(api).ReadDir(ctx, "/missing")
	require.NoError(t, err)
	assert.Equal(t, types.NotFound, outcome)
}

func TestDescriptorReadWrite(t *testing.T) {
	ctx := context.Background()
	b := newBackend(newFakeS3())

	f, _, err := b.CreateFile(ctx, "/f")
	require.NoError(t, err)
	n, err := f.Write(ctx, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	pos, err := f.Seek(ctx, -5, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)
	data, err := f.Read(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	data, err = f.Read(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = f.Seek(ctx, -1, io.SeekStart)
	assert.ErrorIs(t, err, errors.ErrSeekError)

	require.NoError(t, f.SetLength(ctx, 5))
	st, err := f.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), st.Size)

	require.NoError(t, f.SetPermissions(ctx, types.ReadonlyPermissions()))
	st, outcome, err := b.Metadata(ctx, "/f")
	require.NoError(t, err)
	require.Equal(t, types.OK, outcome)
	assert.True(t, st.Permissions.Readonly)

	_, err = f.StatFS(ctx)
	assert.ErrorIs(t, err, errors.ErrGeneric)
	require.NoError(t, f.Close(ctx))
	_, err = f.Write(ctx, []byte("x"))
	assert.ErrorIs(t, err, errors.ErrFileAlreadyClosed)
}

func TestDescriptorDetectsReplacedContent(t *testing.T) {
	ctx := context.Background()
	b := newBackend(newFakeS3())

	w, _, err := b.CreateFile(ctx, "/f")
	require.NoError(t, err)
	r, outcome, err := b.Open(ctx, "/f")
	require.NoError(t, err)
	require.Equal(t, types.OK, outcome)

	_, err = w.Write(ctx, []byte("one"))
	require.NoError(t, err)

	_, err = r.Read(ctx, 3)
	assert.ErrorIs(t, err, errors.ErrConcurrentIssue)
	_, err = r.Write(ctx, []byte("two"))
	assert.ErrorIs(t, err, errors.ErrConcurrentIssue)
	_, err = r.Metadata(ctx)
	assert.ErrorIs(t, err, errors.ErrConcurrentIssue)

	_, err = w.Write(ctx, []byte("!"))
	require.NoError(t, err, "the writer still holds the current version")
}

func TestWriteReappliesAfterTreeConflict(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	b := newBackend(api)

	f, _, err := b.CreateFile(ctx, "/f")
	require.NoError(t, err)

	api.conflictKey = b.config.metadataKey()
	api.conflicts = commitAttempts - 1
	_, err = f.Write(ctx, []byte("data"))
	require.NoError(t, err)

	st, outcome, err := b.Metadata(ctx, "/f")
	require.NoError(t, err)
	require.Equal(t, types.OK, outcome)
	assert.Equal(t, uint64(4), st.Size)
}

func TestWriteLosingTreeCommitIsConcurrentIssue(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	b := newBackend(api)

	f, _, err := b.CreateFile(ctx, "/f")
	require.NoError(t, err)

	api.conflictKey = b.config.metadataKey()
	api.conflicts = commitAttempts
	_, err = f.Write(ctx, []byte("data"))
	assert.ErrorIs(t, err, errors.ErrConcurrentIssue)

	api.conflicts = commitAttempts
	err = f.SetPermissions(ctx, types.ReadonlyPermissions())
	assert.ErrorIs(t, err, errors.ErrConcurrentIssue)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	b := newBackend(api)

	api.throttle = 2
	exists, err := b.PathExists(ctx, "/")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, isNoSuchKey(&s3types.NoSuchKey{}))
	assert.True(t, isNoSuchKey(apiError("NotFound")))
	assert.True(t, isPreconditionFailed(apiError("PreconditionFailed")))
	assert.True(t, isTransient(apiError("SlowDown")))
	assert.False(t, isTransient(apiError("AccessDenied")))
	assert.False(t, isTransient(fmt.Errorf("plain")))
}
