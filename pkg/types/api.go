package types

import "github.com/google/uuid"

// SubmitTextRequest is the payload of POST /api/v1/jobs/text.
type SubmitTextRequest struct {
	// Identifier of a configured text model.
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	TextParams
}

// SubmitImageRequest is the payload of POST /api/v1/jobs/image.
type SubmitImageRequest struct {
	// Identifier of a configured image model.
	// example: sd15-q8
	Model string `json:"model" example:"sd15-q8"`
	ImageParams
}

// SubmitResponse acknowledges an accepted job submission.
type SubmitResponse struct {
	// Identifier of the queued job.
	// example: 7b0d2ab2-4f7e-4a5d-9f3c-2f8a1be0c911
	JobID uuid.UUID `json:"job_id" example:"7b0d2ab2-4f7e-4a5d-9f3c-2f8a1be0c911"`
	// Initial lifecycle state, always "queued".
	// example: queued
	State JobState `json:"state" example:"queued"`
}

// JobsResponse wraps the list returned by GET /api/v1/jobs.
type JobsResponse struct {
	Jobs []*JobRecord `json:"jobs"`
}

// ArtifactsResponse wraps the metadata list of a job's stored artifacts.
type ArtifactsResponse struct {
	Artifacts []*Artifact `json:"artifacts"`
}

// ModelsResponse wraps the list of models returned by GET /api/v1/models.
type ModelsResponse struct {
	Models []ModelDesc `json:"models"`
}

// LaneStatus reports one model's live queue occupancy.
type LaneStatus struct {
	// Model the lane belongs to.
	// example: tinyllama-q4
	ModelID string `json:"model_id" example:"tinyllama-q4"`
	// Number of queued jobs waiting for the slot.
	// example: 3
	Waiting int `json:"waiting" example:"3"`
	// Identifier of the job holding the slot, if any.
	Running *uuid.UUID `json:"running,omitempty"`
}

// StatusResponse is the daemon status returned by GET /api/v1/status.
type StatusResponse struct {
	// True once shutdown has started; submissions are refused.
	Draining bool `json:"draining"`
	// Per-model queue occupancy, sorted by model id.
	Lanes []LaneStatus `json:"lanes"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: unknown model "nope"
	Error string `json:"error" example:"unknown model \"nope\""`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}
