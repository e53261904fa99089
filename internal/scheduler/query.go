package scheduler

import (
	"context"

	"github.com/google/uuid"

	"gend/internal/store"
	"gend/internal/stream"
	"gend/pkg/types"
)

// Models lists the models the daemon serves.
func (s *Scheduler) Models() []types.ModelDesc {
	return s.reg.List()
}

// Status returns the job's current snapshot. For a live job the stored
// record is overlaid with the in-memory state and partial output, which are
// fresher than the last checkpoint.
func (s *Scheduler) Status(ctx context.Context, ident types.Identity, id uuid.UUID) (*types.JobRecord, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ident.CanAccess(j.Owner) {
		return nil, ErrForbidden(id)
	}
	s.overlay(j)
	return j, nil
}

// List returns job snapshots newest-first. Non-admin callers only ever see
// their own jobs regardless of the filter.
func (s *Scheduler) List(ctx context.Context, ident types.Identity, f store.Filter) ([]*types.JobRecord, error) {
	if !ident.Admin() {
		f.Owner = ident.Subject
	}
	jobs, err := s.store.ListJobs(ctx, f)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		s.overlay(j)
	}
	return jobs, nil
}

// Delete removes a terminal job and its artifacts (retention). Live jobs
// must be cancelled first.
func (s *Scheduler) Delete(ctx context.Context, ident types.Identity, id uuid.UUID) error {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !ident.CanAccess(j.Owner) {
		return ErrForbidden(id)
	}
	s.mu.Lock()
	_, live := s.jobs[id]
	s.mu.Unlock()
	if live || !j.State.IsTerminal() {
		return ErrNotFinished(id)
	}
	return s.store.DeleteJob(ctx, id)
}

// Subscribe attaches to the job's increment stream. A live job yields
// increments from now on (no replay); a finished job yields its single
// terminal increment and an immediately closed channel.
func (s *Scheduler) Subscribe(ctx context.Context, ident types.Identity, id uuid.UUID) (*stream.Subscription, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ident.CanAccess(j.Owner) {
		return nil, ErrForbidden(id)
	}
	if sub, ok := s.hub.Subscribe(id); ok {
		return sub, nil
	}
	if inc, ok := types.TerminalIncrement(j); ok {
		return stream.Closed(inc), nil
	}
	// The feed closed between our read and now; re-read for the terminal
	// state the worker just wrote.
	j, err = s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc, ok := types.TerminalIncrement(j); ok {
		return stream.Closed(inc), nil
	}
	// Feed gone and the record never became terminal: the terminal write
	// was lost. The stream is still over.
	s.log.Warn().Str("job_id", id.String()).Msg("stream finished but record not terminal")
	return stream.Closed(types.Failed(reasonStore)), nil
}

// Artifacts lists a job's artifact metadata (no payloads).
func (s *Scheduler) Artifacts(ctx context.Context, ident types.Identity, id uuid.UUID) ([]*types.Artifact, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ident.CanAccess(j.Owner) {
		return nil, ErrForbidden(id)
	}
	return s.store.ListArtifacts(ctx, id)
}

// Artifact fetches one artifact with its payload.
func (s *Scheduler) Artifact(ctx context.Context, ident types.Identity, id uuid.UUID, seq int) (*types.Artifact, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ident.CanAccess(j.Owner) {
		return nil, ErrForbidden(id)
	}
	return s.store.GetArtifact(ctx, id, seq)
}

// overlay refreshes a stored snapshot with the live handle's state and
// partial output.
func (s *Scheduler) overlay(j *types.JobRecord) {
	s.mu.Lock()
	h, ok := s.jobs[j.ID]
	var state types.JobState
	if ok {
		state = h.state
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if state != "" && !j.State.IsTerminal() {
		j.State = state
	}
	if j.Modality == types.ModalityText {
		if out := h.partialOutput(); len(out) > len(j.Output) {
			j.Output = out
		}
	}
}
