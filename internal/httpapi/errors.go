package httpapi

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"tensord/internal/backend"
	"tensord/internal/manager"
	"tensord/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeErrorResponse(w, types.ErrorResponse{Error: msg, Code: status})
}

func writeErrorResponse(w http.ResponseWriter, e types.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	_ = json.NewEncoder(w).Encode(e)
}

// writeServiceError maps err to a status code, writes the payload and returns
// the status.
func writeServiceError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue")
	}
	writeErrorResponse(w, types.ErrorResponse{
		Error: err.Error(),
		Code:  status,
		Kind:  string(backend.KindOf(err)),
	})
	return status
}

func statusFor(err error) int {
	switch {
	case manager.IsModelNotFound(err):
		return http.StatusNotFound
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests
	case manager.IsInvalidInput(err):
		return http.StatusBadRequest
	case manager.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	// Request-shaped core failures are the client's. Batch size errors come
	// from how the batcher combined requests, so they stay server errors with
	// the rest of the model and engine failures.
	switch backend.KindOf(err) {
	case backend.KindShapeMismatch, backend.KindSizeMismatch, backend.KindUnsupportedMemoryKind:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
