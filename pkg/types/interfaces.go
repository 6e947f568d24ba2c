package types

import (
	"context"
	"time"
)

// Outcome is the expected, non-failure result of a backend operation.
type Outcome int

const (
	OK Outcome = iota
	NotFound
	NotADirectory
	NotAFile
	InvalidParent
	AlreadyExists
	DirNotEmpty
	RootRemovalNotAllowed
	SourceIsParentOfTarget
	NotSupported
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case NotFound:
		return "not_found"
	case NotADirectory:
		return "not_a_directory"
	case NotAFile:
		return "not_a_file"
	case InvalidParent:
		return "invalid_parent"
	case AlreadyExists:
		return "already_exists"
	case DirNotEmpty:
		return "dir_not_empty"
	case RootRemovalNotAllowed:
		return "root_removal_not_allowed"
	case SourceIsParentOfTarget:
		return "source_is_parent_of_target"
	case NotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// Backend is one storage instance. Paths are absolute within the storage.
// A non-nil error means the backend failed; expected conditions are Outcomes.
type Backend interface {
	// ReadDir lists the children of path as within-storage paths.
	ReadDir(ctx context.Context, path string) ([]string, Outcome, error)
	Metadata(ctx context.Context, path string) (Stat, Outcome, error)
	Open(ctx context.Context, path string) (Descriptor, Outcome, error)
	CreateDir(ctx context.Context, path string) (Outcome, error)
	// CreateFile creates path and opens it. An existing file is reported as AlreadyExists.
	CreateFile(ctx context.Context, path string) (Descriptor, Outcome, error)
	RemoveDir(ctx context.Context, path string) (Outcome, error)
	RemoveFile(ctx context.Context, path string) (Outcome, error)
	Rename(ctx context.Context, oldPath, newPath string) (Outcome, error)
	SetPermissions(ctx context.Context, path string, perms Permissions) (Outcome, error)
	PathExists(ctx context.Context, path string) (bool, error)
	StatFS(ctx context.Context, path string) (FsStat, Outcome, error)
}

// Descriptor is an opened file.
type Descriptor interface {
	Read(ctx context.Context, n int) ([]byte, error)
	Write(ctx context.Context, p []byte) (int, error)
	Seek(ctx context.Context, offset int64, whence int) (int64, error)
	SetLength(ctx context.Context, length uint64) error
	Sync(ctx context.Context) error
	SetTimes(ctx context.Context, atime, mtime *time.Time) error
	Metadata(ctx context.Context) (Stat, error)
	StatFS(ctx context.Context) (FsStat, error)
	SetPermissions(ctx context.Context, perms Permissions) error
	Close(ctx context.Context) error
}
