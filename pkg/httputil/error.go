package httputil

import (
	"errors"
	"net/http"

	"github.com/rx3lixir/mapchat/internal/batch"
	"github.com/rx3lixir/mapchat/internal/syncerr"
)

// HTTPError represents an error that can be sent to clients
type HTTPError struct {
	Status  int    // HTTP status code
	Message string // User-facing message
	Cause   error  // Optional wrapped internal error (for logging)
	Details any    // Optional extra context (e.g. validation errors)
	Code    string // Machine-readable error kind, empty for transport errors
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return e.Message
}

// Unwrap allows errors.Is and errors.As to work
func (e *HTTPError) Unwrap() error {
	return e.Cause
}

// Error with 400 status code
func BadRequest(msg string, details ...any) error {
	return &HTTPError{
		Status:  http.StatusBadRequest,
		Message: msg,
		Details: singleOrSlice(details),
	}
}

// Error with 404 status code
func NotFound(msg string) error {
	return &HTTPError{Status: http.StatusNotFound, Message: msg}
}

// Error with 500 status code
func Internal(err error) error {
	return &HTTPError{
		Status:  http.StatusInternalServerError,
		Message: "Something went wrong",
		Cause:   err,
	}
}

// Error with 401 status code
func Unauthorized(msg string) error {
	return &HTTPError{Status: http.StatusUnauthorized, Message: msg}
}

// Error with 403 status code
func Forbidden(msg string) error {
	return &HTTPError{Status: http.StatusForbidden, Message: msg}
}

// Error with 503 status code
func Unavailable(err error) error {
	return &HTTPError{
		Status:  http.StatusServiceUnavailable,
		Message: "Upstream storage is unavailable, try again later",
		Cause:   err,
	}
}

// FromSyncError maps a sync engine error to a response. The message of
// client errors is passed through; server-side causes are hidden.
func FromSyncError(err error) *HTTPError {
	e := &HTTPError{Cause: err, Message: err.Error()}
	if kind := syncerr.KindOf(err); kind != syncerr.KindUnknown {
		e.Code = kind.String()
	}

	var partial *batch.PartialFailure
	switch syncerr.KindOf(err) {
	case syncerr.KindValidation:
		e.Status = http.StatusBadRequest
	case syncerr.KindAccessDenied:
		e.Status = http.StatusForbidden
	case syncerr.KindReadOnly:
		e.Status = http.StatusForbidden
	case syncerr.KindNotFound:
		e.Status = http.StatusNotFound
	case syncerr.KindProvider:
		e.Status = http.StatusServiceUnavailable
		e.Message = "Upstream storage is unavailable, try again later"
	case syncerr.KindPartialBatch:
		e.Status = http.StatusInternalServerError
		e.Message = "Operation was only partially applied"
		if errors.As(err, &partial) {
			e.Details = map[string]int{
				"committed_units": partial.Committed,
				"total_units":     partial.Units,
			}
		}
	default:
		e.Status = http.StatusInternalServerError
		e.Message = "Internal Server Error"
	}
	return e
}

// tiny helper so you can pass one detail or many
func singleOrSlice(v []any) any {
	switch len(v) {
	case 0:
		return nil
	case 1:
		return v[0]
	default:
		return v
	}
}
