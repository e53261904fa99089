package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Modality names the kind of output a model produces.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	return m == ModalityText || m == ModalityImage
}

// JobState is the lifecycle state of a generation job.
//
// Allowed transitions:
//
//	queued    -> running | cancelled
//	running   -> cancelling | completed | failed
//	cancelling-> cancelled | completed | failed
//
// Terminal states never change again.
type JobState string

const (
	StateQueued     JobState = "queued"
	StateRunning    JobState = "running"
	StateCancelling JobState = "cancelling"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateCancelled  JobState = "cancelled"
)

// IsTerminal reports whether the state is final.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known lifecycle states.
func (s JobState) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateCancelling, StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// JobRecord is the durable record of one generation job. It is created when a
// submission is accepted and survives daemon restarts. Only the worker that
// owns the job mutates it after creation.
type JobRecord struct {
	// Unique job identifier.
	// example: 7b0d2ab2-4f7e-4a5d-9f3c-2f8a1be0c911
	ID uuid.UUID `json:"id" example:"7b0d2ab2-4f7e-4a5d-9f3c-2f8a1be0c911"`
	// Opaque subject that submitted the job.
	// example: alice
	Owner string `json:"owner" example:"alice"`
	// Identifier of the model the job runs against.
	// example: tinyllama-q4
	ModelID string `json:"model" example:"tinyllama-q4"`
	// Output modality of the model.
	// example: text
	Modality Modality `json:"modality" example:"text"`
	// Submitted generation parameters, shaped by the modality.
	Params json.RawMessage `json:"params,omitempty" swaggertype:"object"`
	// Current lifecycle state.
	// example: running
	State JobState `json:"state" example:"running"`
	// Accumulated text output (text jobs). Updated at the checkpoint cadence
	// while running, final on completion.
	Output string `json:"output,omitempty"`
	// Number of artifacts stored so far (image jobs).
	// example: 2
	ArtifactCount int `json:"artifact_count,omitempty" example:"2"`
	// Human-readable failure or cancellation reason for terminal states.
	Error string `json:"error,omitempty"`
	// Submission time.
	CreatedAt time.Time `json:"created_at"`
	// Time the job left the queue and its worker started, if it ever ran.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// Time the job reached a terminal state.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing the worker-owned record to mutation.
func (j *JobRecord) Clone() *JobRecord {
	c := *j
	if j.Params != nil {
		c.Params = append(json.RawMessage(nil), j.Params...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Artifact is one stored binary output of a job (an image sample). Data is
// only populated when a single artifact is fetched, never in listings.
type Artifact struct {
	// Unique artifact identifier.
	// example: 0e6f1f26-9c7e-43a2-aa8e-53fac3f9d1b0
	ID uuid.UUID `json:"id" example:"0e6f1f26-9c7e-43a2-aa8e-53fac3f9d1b0"`
	// Job the artifact belongs to.
	JobID uuid.UUID `json:"job_id"`
	// 1-based sample index within the job.
	// example: 1
	Seq int `json:"seq" example:"1"`
	// MIME type of the payload.
	// example: image/png
	MIME string `json:"mime" example:"image/png"`
	// Payload size in bytes.
	// example: 482133
	SizeBytes int64 `json:"size_bytes" example:"482133"`
	// Storage time.
	CreatedAt time.Time `json:"created_at"`

	Data []byte `json:"-"`
}

// ModelDesc describes one model exposed by the daemon.
type ModelDesc struct {
	// Stable model identifier used in submissions.
	// example: tinyllama-q4
	ID string `json:"id" example:"tinyllama-q4"`
	// Output modality.
	// example: text
	Modality Modality `json:"modality" example:"text"`
	// Human-friendly description.
	// example: TinyLlama 1.1B chat, Q4_K_M
	Description string `json:"description,omitempty" example:"TinyLlama 1.1B chat, Q4_K_M"`
}
