package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// MaxJSONBody caps request bodies read by DecodeJSON
const MaxJSONBody = 1 << 20

// HandlerFunc is an http handler that reports failure by returning it
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// Handler adapts h to net/http. A returned error is written by RespondError.
func Handler(h HandlerFunc, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			RespondError(w, r, err, log)
		}
	}
}

// RespondError writes err as a JSON error body. Errors that are not
// *HTTPError get their status from the sync error kind.
func RespondError(w http.ResponseWriter, r *http.Request, err error, log *slog.Logger) {
	reqID := requestID(r.Context())

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		httpErr = FromSyncError(err)
	}

	level := slog.LevelWarn
	msg := "client error"
	if httpErr.Status >= http.StatusInternalServerError {
		level = slog.LevelError
		msg = "request failed"
	}
	log.Log(r.Context(), level, msg,
		"error", err,
		"status", httpErr.Status,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", reqID,
	)

	body := map[string]any{
		"error":      httpErr.Message,
		"request_id": reqID,
	}
	if httpErr.Code != "" {
		body["code"] = httpErr.Code
	}
	if httpErr.Details != nil {
		body["details"] = httpErr.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpErr.Status)
	_ = json.NewEncoder(w).Encode(body)
}

// RespondJSON writes data with the given status
func RespondJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// NoContent answers 204 for operations with nothing to return
func NoContent(w http.ResponseWriter) error {
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// DecodeJSON decodes the request body into target, rejecting unknown
// fields and bodies over MaxJSONBody.
func DecodeJSON(r *http.Request, target any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return BadRequest("Request body is required")
	}

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxJSONBody))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &HTTPError{Status: http.StatusRequestEntityTooLarge, Message: "Request body is too large"}
		}
		return BadRequest("Invalid JSON format", map[string]string{
			"parse_error": err.Error(),
		})
	}

	return nil
}

// ParseUUID reads a UUID path parameter
func ParseUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	idStr := chi.URLParam(r, paramName)
	if idStr == "" {
		return uuid.Nil, BadRequest(fmt.Sprintf("%s is required", paramName))
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, BadRequest(fmt.Sprintf("Invalid %s", paramName))
	}

	return id, nil
}

// QueryInt reads an optional integer query parameter, returning def when
// it is absent
func QueryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, BadRequest(fmt.Sprintf("%s must be a number", name))
	}
	return n, nil
}

// QueryBool reports whether a query flag is set to a true value
func QueryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func requestID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return "unknown"
}
