// Package engine wraps the model runtimes behind a single execution
// contract. An Engine owns one loaded model and runs one generation at a
// time; serialization is the scheduler's job, engines only promise to honor
// context cancellation between units of work (a token or a sampling step).
package engine

import (
	"context"
	"encoding/json"

	"gend/pkg/types"
)

// EmitFunc receives progress increments while a generation runs. It must not
// block; implementations hand increments to the streaming hub which drops
// rather than stalls.
type EmitFunc func(types.Increment)

// SaveFunc persists one finished binary sample (image engines). The engine
// must stop and return the error if a save fails: an artifact that cannot be
// stored makes the whole job a fault.
type SaveFunc func(ctx context.Context, mime string, data []byte) error

// Result summarizes a finished generation.
type Result struct {
	// Output is the accumulated text (text engines). Empty for image jobs.
	Output string
	// FinishReason is "stop", "length" or "cancel" when known.
	FinishReason string
}

// Engine is a loaded model ready to run generations.
//
// Run blocks for the whole generation. It emits increments as they are
// produced, hands finished samples to save, and returns the final result.
// When ctx is cancelled Run must return promptly with ctx.Err(); any other
// error is an engine fault. Run is never invoked concurrently on the same
// Engine.
type Engine interface {
	Modality() types.Modality
	// Validate rejects malformed or out-of-range parameters before any
	// compute happens. A job is only created once Validate passes.
	Validate(raw json.RawMessage) error
	Run(ctx context.Context, raw json.RawMessage, emit EmitFunc, save SaveFunc) (Result, error)
	// Close releases the model. No Run may be in flight.
	Close() error
}

// unavailableError signals a runtime the binary was built without, so callers
// can fail startup instead of serving a model that cannot run.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates a missing runtime dependency.
func IsUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}
