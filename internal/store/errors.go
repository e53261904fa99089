package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// notFoundError reports a missing job or artifact.
type notFoundError struct{ what, id string }

func (e notFoundError) Error() string   { return fmt.Sprintf("%s %s not found", e.what, e.id) }
func (e notFoundError) StatusCode() int { return 404 }

// ErrJobNotFound constructs a not-found error for a job id.
func ErrJobNotFound(id uuid.UUID) error { return notFoundError{what: "job", id: id.String()} }

// ErrArtifactNotFound constructs a not-found error for one artifact.
func ErrArtifactNotFound(jobID uuid.UUID, seq int) error {
	return notFoundError{what: "artifact", id: fmt.Sprintf("%s/%d", jobID, seq)}
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	var e notFoundError
	return errors.As(err, &e)
}

// terminalError reports an attempt to mutate a job that already finished.
type terminalError struct{ id string }

func (e terminalError) Error() string   { return "job " + e.id + " is already terminal" }
func (e terminalError) StatusCode() int { return 409 }

// ErrJobTerminal constructs a terminal-conflict error.
func ErrJobTerminal(id uuid.UUID) error { return terminalError{id: id.String()} }

// IsTerminal reports whether err means the job already reached a final state.
func IsTerminal(err error) bool {
	var e terminalError
	return errors.As(err, &e)
}

// unavailableError wraps a driver failure so callers can treat any backend
// outage uniformly (bounded retries, 503 at the HTTP boundary).
type unavailableError struct {
	op    string
	cause error
}

func (e unavailableError) Error() string   { return e.op + ": store unavailable: " + e.cause.Error() }
func (e unavailableError) Unwrap() error   { return e.cause }
func (e unavailableError) StatusCode() int { return 503 }

func unavail(op string, cause error) error { return unavailableError{op: op, cause: cause} }

// IsUnavailable reports whether err is a backend failure rather than a
// semantic one.
func IsUnavailable(err error) bool {
	var e unavailableError
	return errors.As(err, &e)
}
