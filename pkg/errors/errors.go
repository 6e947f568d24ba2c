// Package errors provides the structured error system for wildfs: error codes, categories and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorCode identifies the kind of a wildfs failure.
type ErrorCode string

// Error codes returned by the DFS frontend and its collaborators.
const (
	// Frontend taxonomy
	ErrCodeNotAFile               ErrorCode = "NOT_A_FILE"
	ErrCodeNotADirectory          ErrorCode = "NOT_A_DIRECTORY"
	ErrCodeNoSuchPath             ErrorCode = "NO_SUCH_PATH"
	ErrCodeFileAlreadyClosed      ErrorCode = "FILE_ALREADY_CLOSED"
	ErrCodeSeekError              ErrorCode = "SEEK_ERROR"
	ErrCodeConcurrentIssue        ErrorCode = "CONCURRENT_ISSUE"
	ErrCodePathAlreadyExists      ErrorCode = "PATH_ALREADY_EXISTS"
	ErrCodeInvalidParent          ErrorCode = "INVALID_PARENT"
	ErrCodeStorageNotResponsive   ErrorCode = "STORAGE_NOT_RESPONSIVE"
	ErrCodeReadOnlyPath           ErrorCode = "READ_ONLY_PATH"
	ErrCodeDirNotEmpty            ErrorCode = "DIR_NOT_EMPTY"
	ErrCodeMoveBetweenContainers  ErrorCode = "MOVE_BETWEEN_CONTAINERS"
	ErrCodeSourceIsParentOfTarget ErrorCode = "SOURCE_IS_PARENT_OF_TARGET"
	ErrCodeGeneric                ErrorCode = "GENERIC"

	// Mount table
	ErrCodeAlreadyMounted      ErrorCode = "ALREADY_MOUNTED"
	ErrCodeContainerNotMounted ErrorCode = "CONTAINER_NOT_MOUNTED"
	ErrCodeInvalidContainer    ErrorCode = "INVALID_CONTAINER"

	// Backends
	ErrCodeUnsupportedBackend ErrorCode = "UNSUPPORTED_BACKEND"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"

	// Configuration and catalog
	ErrCodeInvalidConfig  ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad     ErrorCode = "CONFIG_LOAD"
	ErrCodeCatalogFailure ErrorCode = "CATALOG_FAILURE"
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory is the coarse grouping of an error code.
type ErrorCategory string

const (
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryHandle        ErrorCategory = "handle"
	CategoryMount         ErrorCategory = "mount"
	CategoryStorage       ErrorCategory = "storage"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// DFSError is a structured error with context and metadata.
type DFSError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *DFSError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DFSError) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same error code.
func (e *DFSError) Is(target error) bool {
	if t, ok := target.(*DFSError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *DFSError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("DFSError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *DFSError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with defaults derived from its code.
func NewError(code ErrorCode, message string) *DFSError {
	return &DFSError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// GetCategory determines the category of an error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeFileAlreadyClosed, ErrCodeSeekError, ErrCodeConcurrentIssue:
		return CategoryHandle
	case ErrCodeAlreadyMounted, ErrCodeContainerNotMounted, ErrCodeInvalidContainer:
		return CategoryMount
	case ErrCodeStorageNotResponsive, ErrCodeUnsupportedBackend, ErrCodeBackendUnavailable,
		ErrCodeCircuitOpen:
		return CategoryStorage
	case ErrCodeInvalidConfig, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeGeneric, ErrCodeInternalError, ErrCodeCatalogFailure:
		return CategoryInternal
	default:
		return CategoryFilesystem
	}
}

// IsRetryableByDefault reports whether an error code describes a transient condition.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeBackendUnavailable:   true,
		ErrCodeStorageNotResponsive: true,
		ErrCodeInternalError:        true,
	}
	return retryableCodes[code]
}

// GetDefaultHTTPStatus returns the HTTP status used when an error crosses the API.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeNotAFile:               http.StatusBadRequest,
		ErrCodeNotADirectory:          http.StatusBadRequest,
		ErrCodeSeekError:              http.StatusBadRequest,
		ErrCodeInvalidParent:          http.StatusBadRequest,
		ErrCodeInvalidContainer:       http.StatusBadRequest,
		ErrCodeInvalidConfig:          http.StatusBadRequest,
		ErrCodeSourceIsParentOfTarget: http.StatusBadRequest,
		ErrCodeReadOnlyPath:           http.StatusForbidden,
		ErrCodeMoveBetweenContainers:  http.StatusForbidden,
		ErrCodeNoSuchPath:             http.StatusNotFound,
		ErrCodeContainerNotMounted:    http.StatusNotFound,
		ErrCodeFileAlreadyClosed:      http.StatusGone,
		ErrCodePathAlreadyExists:      http.StatusConflict,
		ErrCodeDirNotEmpty:            http.StatusConflict,
		ErrCodeAlreadyMounted:         http.StatusConflict,
		ErrCodeConcurrentIssue:        http.StatusConflict,
		ErrCodeUnsupportedBackend:     http.StatusNotImplemented,
		ErrCodeStorageNotResponsive:   http.StatusServiceUnavailable,
		ErrCodeBackendUnavailable:     http.StatusServiceUnavailable,
		ErrCodeCircuitOpen:            http.StatusServiceUnavailable,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithContext adds contextual information to an error.
func (e *DFSError) WithContext(key, value string) *DFSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error.
func (e *DFSError) WithDetail(key string, value interface{}) *DFSError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *DFSError) WithComponent(component string) *DFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *DFSError) WithOperation(operation string) *DFSError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *DFSError) WithCause(cause error) *DFSError {
	e.Cause = cause
	return e
}

// CodeOf returns the code of the first DFSError in err's chain, or the empty code.
func CodeOf(err error) ErrorCode {
	var dfsErr *DFSError
	if stderrors.As(err, &dfsErr) {
		return dfsErr.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// HTTPStatusOf maps any error to the status the API answers with.
func HTTPStatusOf(err error) int {
	var dfsErr *DFSError
	if stderrors.As(err, &dfsErr) {
		if dfsErr.HTTPStatus != 0 {
			return dfsErr.HTTPStatus
		}
		return GetDefaultHTTPStatus(dfsErr.Code)
	}
	return http.StatusInternalServerError
}
