// Package store persists job records and artifacts. Three drivers share one
// interface: sqlite (default, single file), postgres (pgx pool) and an
// in-memory map for tests. The scheduler is the only writer of a given job,
// so drivers only need per-statement atomicity, not cross-job transactions.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"gend/pkg/types"
)

// Store is the durable record of jobs and their artifacts.
type Store interface {
	// CreateJob inserts a new record. The record's ID must be set.
	CreateJob(ctx context.Context, j *types.JobRecord) error
	// UpdateJob applies a patch to a non-terminal job in one atomic write.
	// Patching a job already in a terminal state fails: terminal records
	// never change again.
	UpdateJob(ctx context.Context, id uuid.UUID, p Patch) error
	// GetJob returns one record.
	GetJob(ctx context.Context, id uuid.UUID) (*types.JobRecord, error)
	// ListJobs returns records matching the filter, newest first.
	ListJobs(ctx context.Context, f Filter) ([]*types.JobRecord, error)
	// DeleteJob removes a record and its artifacts. State checks are the
	// caller's job; deletion here is unconditional.
	DeleteJob(ctx context.Context, id uuid.UUID) error

	// PutArtifact stores one sample and bumps the owning job's artifact
	// count in the same transaction.
	PutArtifact(ctx context.Context, a *types.Artifact) error
	// ListArtifacts returns artifact metadata (no payloads) ordered by seq.
	ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]*types.Artifact, error)
	// GetArtifact returns one artifact including its payload.
	GetArtifact(ctx context.Context, jobID uuid.UUID, seq int) (*types.Artifact, error)

	// ReconcileInterrupted fails every job left in a non-terminal state by a
	// previous process, marking it "interrupted by restart". Returns how many
	// records were resolved. Called once at startup before jobs run.
	ReconcileInterrupted(ctx context.Context) (int, error)

	Close() error
}

// Patch is a partial update of a job record. Nil fields are left untouched.
type Patch struct {
	State      *types.JobState
	Output     *string
	Error      *string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Filter narrows ListJobs. Zero values mean "any".
type Filter struct {
	Owner   string
	State   types.JobState
	ModelID string
	Since   time.Time
	Until   time.Time
	// Limit caps the result; 0 applies DefaultListLimit, and anything above
	// MaxListLimit is clamped.
	Limit int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// EffectiveLimit resolves the filter's limit against the bounds.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// InterruptedReason is the error recorded on jobs resolved by restart
// reconciliation, distinct from ordinary engine failures.
const InterruptedReason = "interrupted by restart"
