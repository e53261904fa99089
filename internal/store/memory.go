package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gend/pkg/types"
)

// memoryStore keeps everything in maps. It backs the "memory" driver and the
// unit tests; nothing survives a restart, which also makes its
// ReconcileInterrupted trivially a no-op in practice.
type memoryStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*types.JobRecord
	artifacts map[uuid.UUID][]*types.Artifact
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		jobs:      make(map[uuid.UUID]*types.JobRecord),
		artifacts: make(map[uuid.UUID][]*types.Artifact),
	}
}

func (m *memoryStore) CreateJob(_ context.Context, j *types.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *memoryStore) UpdateJob(_ context.Context, id uuid.UUID, p Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound(id)
	}
	if j.State.IsTerminal() {
		return ErrJobTerminal(id)
	}
	applyPatch(j, p)
	return nil
}

func applyPatch(j *types.JobRecord, p Patch) {
	if p.State != nil {
		j.State = *p.State
	}
	if p.Output != nil {
		j.Output = *p.Output
	}
	if p.Error != nil {
		j.Error = *p.Error
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		j.StartedAt = &t
	}
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		j.FinishedAt = &t
	}
}

func (m *memoryStore) GetJob(_ context.Context, id uuid.UUID) (*types.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound(id)
	}
	return j.Clone(), nil
}

func (m *memoryStore) ListJobs(_ context.Context, f Filter) ([]*types.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.JobRecord, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !matches(j, f) {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID.String() > out[b].ID.String()
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(j *types.JobRecord, f Filter) bool {
	if f.Owner != "" && j.Owner != f.Owner {
		return false
	}
	if f.State != "" && j.State != f.State {
		return false
	}
	if f.ModelID != "" && j.ModelID != f.ModelID {
		return false
	}
	if !f.Since.IsZero() && j.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && j.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

func (m *memoryStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrJobNotFound(id)
	}
	delete(m.jobs, id)
	delete(m.artifacts, id)
	return nil
}

func (m *memoryStore) PutArtifact(_ context.Context, a *types.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[a.JobID]
	if !ok {
		return ErrJobNotFound(a.JobID)
	}
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	c.SizeBytes = int64(len(a.Data))
	m.artifacts[a.JobID] = append(m.artifacts[a.JobID], &c)
	sort.Slice(m.artifacts[a.JobID], func(x, y int) bool {
		return m.artifacts[a.JobID][x].Seq < m.artifacts[a.JobID][y].Seq
	})
	j.ArtifactCount++
	return nil
}

func (m *memoryStore) ListArtifacts(_ context.Context, jobID uuid.UUID) ([]*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return nil, ErrJobNotFound(jobID)
	}
	out := make([]*types.Artifact, 0, len(m.artifacts[jobID]))
	for _, a := range m.artifacts[jobID] {
		c := *a
		c.Data = nil
		out = append(out, &c)
	}
	return out, nil
}

func (m *memoryStore) GetArtifact(_ context.Context, jobID uuid.UUID, seq int) (*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.artifacts[jobID] {
		if a.Seq == seq {
			c := *a
			c.Data = append([]byte(nil), a.Data...)
			return &c, nil
		}
	}
	return nil, ErrArtifactNotFound(jobID, seq)
}

func (m *memoryStore) ReconcileInterrupted(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, j := range m.jobs {
		if j.State.IsTerminal() {
			continue
		}
		j.State = types.StateFailed
		j.Error = InterruptedReason
		t := now
		j.FinishedAt = &t
		n++
	}
	return n, nil
}

func (m *memoryStore) Close() error { return nil }
