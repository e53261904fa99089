package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
)

// streamJob replays a job's live increments as NDJSON until the terminal
// increment, the client disconnects, or the daemon shuts down. Subscribers
// that attach after the job finished get a single terminal line.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	sub, err := s.svc.Subscribe(r.Context(), identityFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	if flush != nil {
		// Commit the response before the first increment arrives so clients
		// know the stream is open.
		flush()
	}

	// Join the server base context with the request context so shutdown
	// terminates streams the client is still holding open.
	ctx, cancel := joinContexts(s.base, r.Context())
	defer cancel()

	enc := json.NewEncoder(w)
	for {
		select {
		case inc, ok := <-sub.C:
			if !ok {
				return
			}
			if err := enc.Encode(inc); err != nil {
				return
			}
			if flush != nil {
				flush()
			}
			if inc.Terminal() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// joinContexts returns a context that is canceled when either a or b is done.
// The returned cancel func must be called to release the goroutine when the
// handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
