package scheduler

import "github.com/google/uuid"

// invalidParamsError rejects a submission before any record is created.
type invalidParamsError struct{ msg string }

func (e invalidParamsError) Error() string   { return "invalid parameters: " + e.msg }
func (e invalidParamsError) StatusCode() int { return 400 }

// ErrInvalidParams constructs an invalidParamsError.
func ErrInvalidParams(msg string) error { return invalidParamsError{msg: msg} }

// IsInvalidParams reports whether err rejects the request parameters.
func IsInvalidParams(err error) bool {
	_, ok := err.(invalidParamsError)
	return ok
}

// forbiddenError signals an ownership mismatch.
type forbiddenError struct{ id uuid.UUID }

func (e forbiddenError) Error() string   { return "job " + e.id.String() + ": forbidden" }
func (e forbiddenError) StatusCode() int { return 403 }

// ErrForbidden constructs a forbiddenError.
func ErrForbidden(id uuid.UUID) error { return forbiddenError{id: id} }

// IsForbidden reports whether err indicates the caller may not touch the job.
func IsForbidden(err error) bool {
	_, ok := err.(forbiddenError)
	return ok
}

// tooBusyError signals a full per-model wait list for 429 mapping.
type tooBusyError struct{ modelID string }

func (e tooBusyError) Error() string   { return "queue full for model " + e.modelID }
func (e tooBusyError) StatusCode() int { return 429 }

// ErrTooBusy constructs a tooBusyError.
func ErrTooBusy(modelID string) error { return tooBusyError{modelID: modelID} }

// IsTooBusy reports whether err indicates backpressure.
func IsTooBusy(err error) bool {
	_, ok := err.(tooBusyError)
	return ok
}

// drainingError rejects submissions while the scheduler shuts down.
type drainingError struct{}

func (drainingError) Error() string   { return "scheduler is draining" }
func (drainingError) StatusCode() int { return 503 }

// ErrDraining constructs a drainingError.
func ErrDraining() error { return drainingError{} }

// IsDraining reports whether err indicates shutdown is in progress.
func IsDraining(err error) bool {
	_, ok := err.(drainingError)
	return ok
}

// notFinishedError rejects deleting a job that is still queued or running.
type notFinishedError struct{ id uuid.UUID }

func (e notFinishedError) Error() string   { return "job " + e.id.String() + " has not finished" }
func (e notFinishedError) StatusCode() int { return 409 }

// ErrNotFinished constructs a notFinishedError.
func ErrNotFinished(id uuid.UUID) error { return notFinishedError{id: id} }

// IsNotFinished reports whether err indicates the job is still live.
func IsNotFinished(err error) bool {
	_, ok := err.(notFinishedError)
	return ok
}
