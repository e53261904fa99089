package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gend/internal/store"
	"gend/pkg/types"
)

// Submit validates the request, creates the durable record and enqueues the
// job on its model's lane. The job id returns immediately; execution starts
// whenever the slot frees up. No record is created when validation fails.
func (s *Scheduler) Submit(ctx context.Context, ident types.Identity, modelID string, modality types.Modality, params json.RawMessage) (uuid.UUID, error) {
	hd, err := s.reg.Resolve(modelID)
	if err != nil {
		return uuid.Nil, err
	}
	if hd.Desc.Modality != modality {
		return uuid.Nil, ErrInvalidParams(fmt.Sprintf("model %q generates %s, not %s", modelID, hd.Desc.Modality, modality))
	}
	if err := hd.Engine.Validate(params); err != nil {
		return uuid.Nil, ErrInvalidParams(err.Error())
	}

	job := &types.JobRecord{
		ID:        uuid.New(),
		Owner:     ident.Subject,
		ModelID:   modelID,
		Modality:  modality,
		Params:    params,
		State:     types.StateQueued,
		CreatedAt: time.Now().UTC(),
	}
	h := &jobHandle{
		id:       job.ID,
		owner:    job.Owner,
		modelID:  modelID,
		modality: modality,
		params:   params,
		state:    types.StateQueued,
	}

	// Reserve the queue position before the store write so the wait list
	// order matches admission order and the depth cap is exact.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return uuid.Nil, ErrDraining()
	}
	l := s.laneLocked(modelID)
	if len(l.waiting) >= s.cfg.QueueDepth {
		s.mu.Unlock()
		return uuid.Nil, ErrTooBusy(modelID)
	}
	l.waiting = append(l.waiting, h)
	s.jobs[job.ID] = h
	s.mu.Unlock()
	queueDepth.WithLabelValues(modelID).Inc()

	if err := s.store.CreateJob(ctx, job); err != nil {
		s.unlink(h)
		return uuid.Nil, err
	}
	s.hub.Open(job.ID)

	s.mu.Lock()
	if s.jobs[job.ID] != h {
		// Cancelled or flushed while the record was being written. The
		// terminal write raced the insert, so repair the row; the job
		// still existed, so its id is returned.
		s.mu.Unlock()
		s.repairFlushed(job.ID)
		s.hub.Finish(job.ID, types.Cancelled())
		return job.ID, nil
	}
	h.ready = true
	s.promoteLocked(l)
	s.mu.Unlock()

	submissionsTotal.WithLabelValues(string(modality)).Inc()
	s.log.Info().
		Str("job_id", job.ID.String()).
		Str("model_id", modelID).
		Str("owner", job.Owner).
		Str("modality", string(modality)).
		Msg("job queued")
	return job.ID, nil
}

// promoteLocked starts the lane's next ready job when the slot is idle.
// Caller holds s.mu.
func (s *Scheduler) promoteLocked(l *lane) {
	if s.closed || l.running != nil || len(l.waiting) == 0 {
		return
	}
	h := l.waiting[0]
	if !h.ready {
		return // record write still in flight; Submit promotes once it lands
	}
	l.waiting = l.waiting[1:]
	queueDepth.WithLabelValues(h.modelID).Dec()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.state = types.StateRunning
	l.running = h
	runningJobs.WithLabelValues(h.modelID).Set(1)
	s.wg.Add(1)
	go s.runJob(ctx, h)
}

// unlink removes a handle that never became runnable (failed record write).
func (s *Scheduler) unlink(h *jobHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[h.id] != h {
		return
	}
	delete(s.jobs, h.id)
	l := s.lanes[h.modelID]
	for i, w := range l.waiting {
		if w == h {
			l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
			queueDepth.WithLabelValues(h.modelID).Dec()
			break
		}
	}
}

// repairFlushed settles the record of a job whose shutdown flush or cancel
// ran before its insert landed: without this the row would stay queued with
// no worker until the next restart reconcile. Not-found and terminal
// responses mean the flush write won the race after all.
func (s *Scheduler) repairFlushed(id uuid.UUID) {
	cancelled := types.StateCancelled
	now := time.Now().UTC()
	err := s.store.UpdateJob(context.Background(), id, store.Patch{State: &cancelled, FinishedAt: &now})
	if err != nil && !store.IsNotFound(err) && !store.IsTerminal(err) {
		s.log.Error().Err(err).Str("job_id", id.String()).Msg("cannot settle flushed job")
	}
}
