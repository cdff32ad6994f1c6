// Package errors provides error kinds and the error type shared by every
// storage component. This is a leaf package with no internal dependencies,
// designed to be imported by the path, idmap, cache and repository packages
// without causing circular imports.
//
// Import graph: errors <- path <- idmap/metacache <- repositories <- mediator
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a storage error.
type Kind int

const (
	// KindNotFound indicates the requested file, folder or mapping does not exist.
	KindNotFound Kind = iota + 1

	// KindAlreadyExists indicates the target name is already taken in its parent.
	KindAlreadyExists

	// KindInvalidInput indicates a malformed path, name or argument.
	KindInvalidInput

	// KindAccessDenied indicates the operation is not permitted on the target.
	KindAccessDenied

	// KindTimeout indicates a lock or I/O deadline expired before completion.
	KindTimeout

	// KindResourceExhausted indicates a pool, quota or concurrency limit was hit.
	KindResourceExhausted

	// KindIOFailure indicates an underlying filesystem operation failed.
	KindIOFailure

	// KindInternal indicates a bug or unexpected state inside the storage layer.
	KindInternal
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindInvalidInput:
		return "InvalidInput"
	case KindAccessDenied:
		return "AccessDenied"
	case KindTimeout:
		return "Timeout"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindIOFailure:
		return "IOFailure"
	case KindInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Error is the error type returned by all storage components. Component names
// the layer that produced the error (e.g. "idmap", "folder", "trash") so a
// failure deep in a batch operation can still be attributed.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Path      string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path: %s)", msg, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Component, e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, msg)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// ============================================================================
// Factory Functions
// ============================================================================

// NewNotFoundError creates a NotFound error for the given resource type.
func NewNotFoundError(component, resourceType, path string) *Error {
	return &Error{
		Kind:      KindNotFound,
		Component: component,
		Message:   fmt.Sprintf("%s not found", resourceType),
		Path:      path,
	}
}

// NewAlreadyExistsError creates an AlreadyExists error.
func NewAlreadyExistsError(component, path string) *Error {
	return &Error{
		Kind:      KindAlreadyExists,
		Component: component,
		Message:   "already exists",
		Path:      path,
	}
}

// NewInvalidInputError creates an InvalidInput error.
func NewInvalidInputError(component, message string) *Error {
	return &Error{
		Kind:      KindInvalidInput,
		Component: component,
		Message:   message,
	}
}

// NewAccessDeniedError creates an AccessDenied error.
func NewAccessDeniedError(component, reason, path string) *Error {
	return &Error{
		Kind:      KindAccessDenied,
		Component: component,
		Message:   reason,
		Path:      path,
	}
}

// NewTimeoutError creates a Timeout error for a lock or I/O deadline.
func NewTimeoutError(component, operation string) *Error {
	return &Error{
		Kind:      KindTimeout,
		Component: component,
		Message:   fmt.Sprintf("timed out waiting for %s", operation),
	}
}

// NewResourceExhaustedError creates a ResourceExhausted error.
func NewResourceExhaustedError(component, resource string) *Error {
	return &Error{
		Kind:      KindResourceExhausted,
		Component: component,
		Message:   fmt.Sprintf("%s exhausted", resource),
	}
}

// NewIOError wraps a filesystem failure.
func NewIOError(component, message, path string, err error) *Error {
	return &Error{
		Kind:      KindIOFailure,
		Component: component,
		Message:   message,
		Path:      path,
		Err:       err,
	}
}

// NewInternalError wraps an unexpected internal failure.
func NewInternalError(component, message string, err error) *Error {
	return &Error{
		Kind:      KindInternal,
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// KindOf returns the kind of err, or KindInternal when err is not a storage
// error. Returns 0 for nil.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsNotFound returns true if the error is a NotFound error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsAlreadyExists returns true if the error is an AlreadyExists error.
func IsAlreadyExists(err error) bool {
	return KindOf(err) == KindAlreadyExists
}

// IsInvalidInput returns true if the error is an InvalidInput error.
func IsInvalidInput(err error) bool {
	return KindOf(err) == KindInvalidInput
}

// IsTimeout returns true if the error is a Timeout error.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// IsResourceExhausted returns true if the error is a ResourceExhausted error.
func IsResourceExhausted(err error) bool {
	return KindOf(err) == KindResourceExhausted
}
