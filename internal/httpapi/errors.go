package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"gend/internal/registry"
	"gend/internal/scheduler"
	"gend/internal/store"
	"gend/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// errorStatus maps a service error to an HTTP status. Every scheduler,
// registry and store error carries its own StatusCode; the predicate switch
// is the fallback for errors wrapped in plain fmt.Errorf chains.
func errorStatus(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	switch {
	case registry.IsUnknownModel(err), store.IsNotFound(err):
		return http.StatusNotFound
	case scheduler.IsInvalidParams(err):
		return http.StatusBadRequest
	case scheduler.IsForbidden(err):
		return http.StatusForbidden
	case scheduler.IsNotFinished(err), store.IsTerminal(err):
		return http.StatusConflict
	case scheduler.IsTooBusy(err):
		return http.StatusTooManyRequests
	case scheduler.IsDraining(err), store.IsUnavailable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError maps err onto the wire and logs server-side faults.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch status {
	case http.StatusTooManyRequests:
		IncrementBackpressure("queue_full")
	case http.StatusInternalServerError:
		ev := s.log.Error().Err(err).Str("path", r.URL.Path)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			ev = ev.Str("request_id", rid)
		}
		ev.Msg("internal error")
	}
	writeJSONError(w, status, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
