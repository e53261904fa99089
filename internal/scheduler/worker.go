package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"gend/internal/store"
	"gend/pkg/types"
)

// Terminal reasons written to the job record.
const (
	reasonShutdown = "interrupted by shutdown"
	reasonStore    = "job store unavailable"
)

// runJob owns one job from slot acquisition to its terminal write. It is
// the only goroutine that mutates the record while the job runs.
func (s *Scheduler) runJob(ctx context.Context, h *jobHandle) {
	defer s.wg.Done()

	log := s.log.With().Str("job_id", h.id.String()).Str("model_id", h.modelID).Logger()

	hd, err := s.reg.Resolve(h.modelID)
	if err != nil {
		// Registry is immutable after startup; a queued job always
		// resolves unless the process is misassembled.
		log.Error().Err(err).Msg("model vanished from registry")
		s.finalize(h, types.StateFailed, "", err.Error(), time.Time{})
		return
	}

	if ctx.Err() != nil {
		// Cancelled between promotion and the first write.
		s.resolveInterrupt(h, time.Time{})
		return
	}

	started := time.Now().UTC()
	running := types.StateRunning
	if err := s.retryStore(ctx, func(c context.Context) error {
		return s.store.UpdateJob(c, h.id, store.Patch{State: &running, StartedAt: &started})
	}); err != nil {
		if ctx.Err() != nil {
			s.resolveInterrupt(h, started)
			return
		}
		log.Error().Err(err).Msg("cannot mark job running")
		reason := reasonStore
		if !store.IsUnavailable(err) {
			reason = err.Error()
		}
		s.finalize(h, types.StateFailed, "", reason, started)
		return
	}
	log.Info().Msg("job running")

	stopCk := make(chan struct{})
	ckDone := make(chan struct{})
	if h.modality == types.ModalityText {
		go func() {
			defer close(ckDone)
			s.checkpointLoop(ctx, h, stopCk)
		}()
	} else {
		close(ckDone)
	}

	emit := func(inc types.Increment) {
		if inc.Kind == types.IncrementChunk {
			h.appendOutput(inc.Text)
		}
		s.hub.Publish(h.id, inc)
	}
	save := func(c context.Context, mime string, data []byte) error {
		a := &types.Artifact{
			ID:        uuid.New(),
			JobID:     h.id,
			Seq:       h.saved + 1,
			MIME:      mime,
			SizeBytes: int64(len(data)),
			Data:      data,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.retryStore(c, func(cc context.Context) error {
			return s.store.PutArtifact(cc, a)
		}); err != nil {
			storeWriteFailures.WithLabelValues("artifact").Inc()
			return err
		}
		h.saved++
		return nil
	}

	res, runErr := hd.Engine.Run(ctx, h.params, emit, save)

	// Stop checkpointing before the terminal write so no stale partial
	// lands after it.
	close(stopCk)
	<-ckDone

	switch {
	case ctx.Err() != nil:
		s.resolveInterrupt(h, started)
	case runErr != nil:
		reason := "engine fault: " + runErr.Error()
		if store.IsUnavailable(runErr) {
			// A failed artifact save surfaces through the engine.
			reason = reasonStore
		}
		log.Warn().Err(runErr).Msg("job failed")
		s.finalize(h, types.StateFailed, h.partialOutput(), reason, started)
	default:
		output := res.Output
		if output == "" && h.modality == types.ModalityText {
			output = h.partialOutput()
		}
		s.finalize(h, types.StateCompleted, output, "", started)
	}
}

// checkpointLoop persists the partial output on a fixed cadence, so a crash
// loses at most one interval of streamed text. A store outage that survives
// the retry budget aborts the job.
func (s *Scheduler) checkpointLoop(ctx context.Context, h *jobHandle, stop <-chan struct{}) {
	t := time.NewTicker(s.cfg.CheckpointInterval)
	defer t.Stop()
	last := ""
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
		}
		cur := h.partialOutput()
		if cur == last {
			continue
		}
		err := s.retryStore(ctx, func(c context.Context) error {
			return s.store.UpdateJob(c, h.id, store.Patch{Output: &cur})
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			storeWriteFailures.WithLabelValues("checkpoint").Inc()
			s.log.Warn().Err(err).Str("job_id", h.id.String()).Msg("checkpoint failed, aborting job")
			h.markCancel(causeStore)
			s.cancelHandle(h)
			return
		}
		last = cur
	}
}

func (s *Scheduler) cancelHandle(h *jobHandle) {
	s.mu.Lock()
	cancel := h.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// resolveInterrupt picks the terminal state for a job whose run context was
// cancelled. A user cancel outranks every later cause.
func (s *Scheduler) resolveInterrupt(h *jobHandle, started time.Time) {
	switch h.cancelCause() {
	case causeUser:
		s.finalize(h, types.StateCancelled, h.partialOutput(), "", started)
	case causeStore:
		s.finalize(h, types.StateFailed, h.partialOutput(), reasonStore, started)
	default:
		s.finalize(h, types.StateFailed, h.partialOutput(), reasonShutdown, started)
	}
}

// finalize performs the job's single terminal write, broadcasts the
// terminal increment and releases the execution slot. The slot is released
// even when every store attempt fails: the record then stays running and
// the next startup reconciles it.
func (s *Scheduler) finalize(h *jobHandle, state types.JobState, output, reason string, started time.Time) {
	finished := time.Now().UTC()
	patch := store.Patch{State: &state, FinishedAt: &finished}
	if output != "" {
		patch.Output = &output
	}
	if reason != "" {
		patch.Error = &reason
	}
	err := s.retryStore(context.Background(), func(c context.Context) error {
		return s.store.UpdateJob(c, h.id, patch)
	})
	if err != nil {
		storeWriteFailures.WithLabelValues("final").Inc()
		s.log.Error().Err(err).Str("job_id", h.id.String()).Msg("terminal write failed, record left for restart reconcile")
	}

	var inc types.Increment
	switch state {
	case types.StateCompleted:
		inc = types.Completed(output, h.saved)
	case types.StateCancelled:
		inc = types.Cancelled()
	default:
		inc = types.Failed(reason)
	}
	s.hub.Finish(h.id, inc)

	s.mu.Lock()
	h.state = state
	delete(s.jobs, h.id)
	if l := s.lanes[h.modelID]; l != nil && l.running == h {
		l.running = nil
		runningJobs.WithLabelValues(h.modelID).Set(0)
		s.promoteLocked(l)
	}
	s.mu.Unlock()

	jobsTotal.WithLabelValues(string(h.modality), string(state)).Inc()
	if !started.IsZero() {
		jobDuration.WithLabelValues(string(h.modality)).Observe(finished.Sub(started).Seconds())
	}
	s.log.Info().
		Str("job_id", h.id.String()).
		Str("state", string(state)).
		Dur("took", finished.Sub(started)).
		Msg("job finished")
}

// finalizeQueued settles a job that never ran: cancelled by its owner while
// waiting, or flushed at shutdown. The handle is already unlinked.
func (s *Scheduler) finalizeQueued(h *jobHandle, reason string) {
	cancelled := types.StateCancelled
	finished := time.Now().UTC()
	patch := store.Patch{State: &cancelled, FinishedAt: &finished}
	if reason != "" {
		patch.Error = &reason
	}
	err := s.retryStore(context.Background(), func(c context.Context) error {
		return s.store.UpdateJob(c, h.id, patch)
	})
	if err != nil && !store.IsNotFound(err) {
		// Not-found means the insert had not landed yet; Submit repairs
		// that row itself.
		storeWriteFailures.WithLabelValues("final").Inc()
		s.log.Error().Err(err).Str("job_id", h.id.String()).Msg("cancel write failed")
	}
	s.hub.Finish(h.id, types.Cancelled())
	jobsTotal.WithLabelValues(string(h.modality), string(types.StateCancelled)).Inc()
	s.log.Info().Str("job_id", h.id.String()).Msg("queued job cancelled")
}

// retryStore runs fn, retrying with linear backoff while the store reports
// itself unavailable. Any other error returns immediately.
func (s *Scheduler) retryStore(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !store.IsUnavailable(err) || attempt >= s.cfg.StoreRetryMax {
			return err
		}
		select {
		case <-time.After(time.Duration(attempt+1) * s.cfg.StoreRetryBackoff):
		case <-ctx.Done():
			return err
		}
	}
}
