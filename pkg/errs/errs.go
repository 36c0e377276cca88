// Package errs classifies failures into the categories the API reports:
// validation, authentication, connectivity, not found, conflict and storage.
// Every class wraps a containerd/errdefs sentinel so callers can test errors
// with errdefs.IsConflict and friends.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
)

// Error is a classified error with a message suitable for API responses.
type Error struct {
	kind  error
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

func newf(kind, cause error, format string, args ...interface{}) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// Validation reports bad or missing input, including cron syntax and artifact names.
func Validation(format string, args ...interface{}) error {
	return newf(errdefs.ErrInvalidArgument, nil, format, args...)
}

// Unauthenticated reports a missing, invalid or expired API token.
func Unauthenticated(format string, args ...interface{}) error {
	return newf(errdefs.ErrUnauthenticated, nil, format, args...)
}

// Rejected reports credentials refused by a remote Postgres or S3 endpoint.
func Rejected(cause error, format string, args ...interface{}) error {
	return newf(errdefs.ErrPermissionDenied, cause, format, args...)
}

// Unreachable reports a network or timeout failure. It is the only retryable class.
func Unreachable(cause error, format string, args ...interface{}) error {
	return newf(errdefs.ErrUnavailable, cause, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newf(errdefs.ErrNotFound, nil, format, args...)
}

// Conflict reports a delete of a referenced entity or a busy pair.
func Conflict(format string, args ...interface{}) error {
	return newf(errdefs.ErrConflict, nil, format, args...)
}

// Storage reports disk or upload failures.
func Storage(cause error, format string, args ...interface{}) error {
	return newf(errdefs.ErrInternal, cause, format, args...)
}

// IsRetryable reports whether err is a transient connectivity failure.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errdefs.IsUnavailable(err)
}

// Kind returns a short machine readable class name for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errdefs.IsInvalidArgument(err):
		return "validation"
	case errors.Is(err, errdefs.ErrUnauthenticated), errdefs.IsPermissionDenied(err):
		return "auth"
	case errdefs.IsUnavailable(err):
		return "connectivity"
	case errdefs.IsNotFound(err):
		return "not_found"
	case errdefs.IsConflict(err):
		return "conflict"
	case errdefs.IsInternal(err):
		return "storage"
	default:
		return "internal"
	}
}

// HTTPStatus maps err to the response code of the REST API.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "":
		return http.StatusOK
	case "validation":
		return http.StatusBadRequest
	case "auth":
		if errors.Is(err, errdefs.ErrUnauthenticated) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case "connectivity":
		return http.StatusServiceUnavailable
	case "not_found":
		return http.StatusNotFound
	case "conflict", "cancelled":
		return http.StatusConflict
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text reported to API clients. For a classified error
// this is its message followed by the cause, so diagnostics such as pg_dump
// stderr reach the caller; context added by outer fmt.Errorf wrapping is
// left out.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	switch Kind(err) {
	case "cancelled":
		return "operation cancelled"
	case "timeout":
		return "operation timed out"
	}
	return err.Error()
}
