package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/keeper/internal/cleaner"
	"github.com/eargollo/keeper/internal/review"
	"github.com/eargollo/keeper/internal/status"
	"github.com/eargollo/keeper/internal/store"
	"github.com/eargollo/keeper/internal/transport"
)

// ListResponse is the standard paginated list envelope.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ErrorBody is the standard error envelope.
type ErrorBody struct {
	Error APIError `json:"error"`
}

// APIError holds a machine-readable code and a human message.
type APIError struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Failures []interface{} `json:"failures,omitempty"`
}

// writeJSON serialises v as JSON with status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON encode", "error", err)
	}
}

// writeError writes a standard error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{
		Error: APIError{Code: code, Message: message},
	})
}

// writeDomainError maps package-level errors onto HTTP status codes and the
// standard envelope. Anything unrecognised becomes a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var transErr *status.TransitionError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	case errors.Is(err, store.ErrVersionConflict):
		writeError(w, http.StatusConflict, "CONFLICT", "Record was modified concurrently; reload and retry")
	case errors.As(err, &transErr):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", transErr.Error())
	case errors.Is(err, review.ErrNoProposal):
		writeError(w, http.StatusBadRequest, "NO_PROPOSAL", review.ErrNoProposal.Error())
	case errors.Is(err, review.ErrNotMember):
		writeError(w, http.StatusBadRequest, "NOT_MEMBER", review.ErrNotMember.Error())
	case errors.Is(err, transport.ErrNoAgents):
		writeError(w, http.StatusServiceUnavailable, "NO_AGENTS", "No cleaner agent is connected")
	case errors.Is(err, cleaner.ErrEmptyFileList):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", cleaner.ErrEmptyFileList.Error())
	case errors.Is(err, cleaner.ErrFileAlreadyDeleted):
		writeError(w, http.StatusConflict, "ALREADY_DELETED", cleaner.ErrFileAlreadyDeleted.Error())
	case errors.Is(err, cleaner.ErrNothingToRetry):
		writeError(w, http.StatusConflict, "NOTHING_TO_RETRY", cleaner.ErrNothingToRetry.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// parsePagination extracts limit and offset from query parameters.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return
}

// idParam parses the chi URL parameter name as an int64 ID.
func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// fmtUnix renders a unix-seconds timestamp as RFC3339 UTC.
func fmtUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// fmtUnixPtr renders an optional unix-seconds timestamp, nil stays nil.
func fmtUnixPtr(ts *int64) *string {
	if ts == nil {
		return nil
	}
	s := fmtUnix(*ts)
	return &s
}
