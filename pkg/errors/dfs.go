package errors

import "fmt"

// Sentinels for use with the standard errors.Is. DFSError.Is compares codes,
// so any error built with the matching constructor below satisfies them.
// Never mutate these values.
var (
	ErrNotAFile               = NewError(ErrCodeNotAFile, "not a file")
	ErrNotADirectory          = NewError(ErrCodeNotADirectory, "not a directory")
	ErrNoSuchPath             = NewError(ErrCodeNoSuchPath, "no such path")
	ErrFileAlreadyClosed      = NewError(ErrCodeFileAlreadyClosed, "file already closed")
	ErrSeekError              = NewError(ErrCodeSeekError, "seek error")
	ErrConcurrentIssue        = NewError(ErrCodeConcurrentIssue, "file modified concurrently")
	ErrPathAlreadyExists      = NewError(ErrCodePathAlreadyExists, "path already exists")
	ErrInvalidParent          = NewError(ErrCodeInvalidParent, "invalid parent")
	ErrStorageNotResponsive   = NewError(ErrCodeStorageNotResponsive, "storage not responsive")
	ErrReadOnlyPath           = NewError(ErrCodeReadOnlyPath, "read-only path")
	ErrDirNotEmpty            = NewError(ErrCodeDirNotEmpty, "directory not empty")
	ErrMoveBetweenContainers  = NewError(ErrCodeMoveBetweenContainers, "move between containers")
	ErrSourceIsParentOfTarget = NewError(ErrCodeSourceIsParentOfTarget, "source is parent of target")
	ErrGeneric                = NewError(ErrCodeGeneric, "generic error")
	ErrAlreadyMounted         = NewError(ErrCodeAlreadyMounted, "container already mounted")
	ErrContainerNotMounted    = NewError(ErrCodeContainerNotMounted, "container not mounted")
	ErrUnsupportedBackend     = NewError(ErrCodeUnsupportedBackend, "unsupported backend type")
	ErrCircuitOpen            = NewError(ErrCodeCircuitOpen, "circuit breaker open")
)

func pathError(code ErrorCode, message, path string) *DFSError {
	return NewError(code, message).WithContext("path", path)
}

// NotAFile reports that path does not name a regular file.
func NotAFile(path string) *DFSError {
	return pathError(ErrCodeNotAFile, "not a file: "+path, path)
}

// NotADirectory reports that path does not name a directory.
func NotADirectory(path string) *DFSError {
	return pathError(ErrCodeNotADirectory, "not a directory: "+path, path)
}

// NoSuchPath reports that path resolves to nothing.
func NoSuchPath(path string) *DFSError {
	return pathError(ErrCodeNoSuchPath, "no such path: "+path, path)
}

// FileAlreadyClosed reports an operation on a handle that is not open.
func FileAlreadyClosed() *DFSError {
	return NewError(ErrCodeFileAlreadyClosed, "file already closed")
}

// SeekError reports an invalid seek.
func SeekError(reason string) *DFSError {
	return NewError(ErrCodeSeekError, reason)
}

// ConcurrentIssue reports that the object behind a descriptor changed since open.
func ConcurrentIssue(path string) *DFSError {
	return pathError(ErrCodeConcurrentIssue, "file modified concurrently: "+path, path)
}

// PathAlreadyExists reports a name clash on create or rename.
func PathAlreadyExists(path string) *DFSError {
	return pathError(ErrCodePathAlreadyExists, "path already exists: "+path, path)
}

// InvalidParent reports that the parent of path does not exist.
func InvalidParent(path string) *DFSError {
	return pathError(ErrCodeInvalidParent, "invalid parent of "+path, path)
}

// StorageNotResponsive reports that every replica failed.
func StorageNotResponsive(path string) *DFSError {
	return pathError(ErrCodeStorageNotResponsive, "no storage responded for "+path, path)
}

// ReadOnlyPath reports a path that cannot be modified, usually because it is virtual or ambiguous.
func ReadOnlyPath(path string) *DFSError {
	return pathError(ErrCodeReadOnlyPath, "read-only path: "+path, path)
}

// DirNotEmpty reports removal of a non-empty directory.
func DirNotEmpty(path string) *DFSError {
	return pathError(ErrCodeDirNotEmpty, "directory not empty: "+path, path)
}

// MoveBetweenContainers reports a rename whose target lies outside the source container.
func MoveBetweenContainers(from, to string) *DFSError {
	return NewError(ErrCodeMoveBetweenContainers, fmt.Sprintf("cannot move %s to %s: different containers", from, to)).
		WithContext("path", from).
		WithContext("target", to)
}

// SourceIsParentOfTarget reports a rename into the source's own subtree.
func SourceIsParentOfTarget(from, to string) *DFSError {
	return NewError(ErrCodeSourceIsParentOfTarget, fmt.Sprintf("%s is a parent of %s", from, to)).
		WithContext("path", from).
		WithContext("target", to)
}

// Generic wraps failures outside the frontend taxonomy.
func Generic(message string) *DFSError {
	return NewError(ErrCodeGeneric, message)
}

// Genericf is Generic with formatting.
func Genericf(format string, args ...interface{}) *DFSError {
	return NewError(ErrCodeGeneric, fmt.Sprintf(format, args...))
}
