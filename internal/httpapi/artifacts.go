package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gend/pkg/types"
)

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	arts, err := s.svc.Artifacts(r.Context(), identityFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if arts == nil {
		arts = []*types.Artifact{}
	}
	writeJSON(w, http.StatusOK, types.ArtifactsResponse{Artifacts: arts})
}

// getArtifact serves one artifact's raw payload with its stored MIME type.
func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil || seq < 1 {
		writeJSONError(w, http.StatusBadRequest, "invalid artifact seq")
		return
	}
	art, err := s.svc.Artifact(r.Context(), identityFrom(r.Context()), id, seq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", art.MIME)
	w.Header().Set("Content-Length", strconv.FormatInt(art.SizeBytes, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}
