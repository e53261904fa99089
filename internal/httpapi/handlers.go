package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gend/internal/store"
	"gend/pkg/types"
)

// decodeJSON enforces the JSON content type and the body size cap, then
// decodes into dst. It writes the error response itself and reports whether
// the handler should proceed.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// Oversized bodies surface here too; report 400 without size details.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) submitText(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitTextRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	params, err := json.Marshal(req.TextParams)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := s.svc.Submit(r.Context(), identityFrom(r.Context()), req.Model, types.ModalityText, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.SubmitResponse{JobID: id, State: types.StateQueued})
}

func (s *Server) submitImage(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitImageRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	params, err := json.Marshal(req.ImageParams)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := s.svc.Submit(r.Context(), identityFrom(r.Context()), req.Model, types.ModalityImage, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.SubmitResponse{JobID: id, State: types.StateQueued})
}

// listJobs translates query parameters into a store filter. Non-admin
// callers are pinned to their own jobs by the scheduler regardless of the
// owner parameter.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		Owner:   q.Get("owner"),
		ModelID: q.Get("model"),
	}
	if v := q.Get("state"); v != "" {
		st := types.JobState(v)
		if !st.Valid() {
			writeJSONError(w, http.StatusBadRequest, "invalid state "+strconv.Quote(v))
			return
		}
		f.State = st
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		f.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "until must be RFC 3339")
			return
		}
		f.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	jobs, err := s.svc.List(r.Context(), identityFrom(r.Context()), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*types.JobRecord{}
	}
	writeJSON(w, http.StatusOK, types.JobsResponse{Jobs: jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	j, err := s.svc.Status(r.Context(), identityFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// cancelJob requests cancellation and echoes the job snapshot observed right
// after, so callers see cancelling, cancelled or whatever terminal state the
// job already reached. Cancelling a finished job is a no-op.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	ident := identityFrom(r.Context())
	if err := s.svc.Cancel(r.Context(), ident, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	j, err := s.svc.Status(r.Context(), ident, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Delete(r.Context(), identityFrom(r.Context()), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: s.svc.Models()})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.StatusResponse{
		Draining: s.svc.Draining(),
		Lanes:    s.svc.Snapshot(),
	})
}
