package scheduler

import (
	"context"

	"github.com/google/uuid"

	"gend/pkg/types"
)

// Cancel requests cooperative cancellation. A queued job is unlinked and
// settled as cancelled without ever running; a running job flips to
// cancelling and its worker resolves the terminal state at the next unit
// of work. Cancelling an already-cancelling or terminal job is a no-op, so
// the operation is idempotent.
func (s *Scheduler) Cancel(ctx context.Context, ident types.Identity, id uuid.UUID) error {
	s.mu.Lock()
	h, live := s.jobs[id]
	if live {
		if !ident.CanAccess(h.owner) {
			s.mu.Unlock()
			return ErrForbidden(id)
		}
		switch h.state {
		case types.StateQueued:
			s.unlinkWaitingLocked(h)
			h.state = types.StateCancelled
			delete(s.jobs, id)
			s.mu.Unlock()
			s.finalizeQueued(h, "")
			return nil
		case types.StateRunning:
			h.state = types.StateCancelling
			h.markCancel(causeUser)
			cancel := h.cancel
			s.mu.Unlock()
			s.log.Info().Str("job_id", id.String()).Msg("cancelling running job")
			cancel()
			return nil
		default:
			// Already cancelling; the worker will settle it.
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()

	// No live handle: the job is terminal, mid-finalize, or unknown.
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !ident.CanAccess(j.Owner) {
		return ErrForbidden(id)
	}
	return nil
}

// unlinkWaitingLocked removes a queued handle from its lane's wait list.
// Caller holds s.mu.
func (s *Scheduler) unlinkWaitingLocked(h *jobHandle) {
	l := s.lanes[h.modelID]
	if l == nil {
		return
	}
	for i, w := range l.waiting {
		if w == h {
			l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
			queueDepth.WithLabelValues(h.modelID).Dec()
			return
		}
	}
}
