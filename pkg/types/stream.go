package types

// IncrementKind tags one streamed NDJSON line.
type IncrementKind string

const (
	// IncrementChunk carries a piece of text output.
	IncrementChunk IncrementKind = "chunk"
	// IncrementProgress reports image sampling progress.
	IncrementProgress IncrementKind = "progress"
	// IncrementCompleted is the terminal line of a successful job.
	IncrementCompleted IncrementKind = "completed"
	// IncrementFailed is the terminal line of a failed job.
	IncrementFailed IncrementKind = "failed"
	// IncrementCancelled is the terminal line of a cancelled job.
	IncrementCancelled IncrementKind = "cancelled"
)

// Increment is one element of a job's output stream. A job's stream is an
// ordered sequence of increments ending in exactly one terminal increment.
type Increment struct {
	// Kind of this increment.
	// example: chunk
	Kind IncrementKind `json:"kind" example:"chunk"`
	// Text delta (kind=chunk).
	Text string `json:"text,omitempty"`
	// Overall progress in percent (kind=progress).
	// example: 40
	Percent float64 `json:"percent,omitempty" example:"40"`
	// Current denoising step within the sample (kind=progress).
	Step int `json:"step,omitempty"`
	// Total steps per sample (kind=progress).
	Steps int `json:"steps,omitempty"`
	// 1-based sample index being generated (kind=progress).
	Sample int `json:"sample,omitempty"`
	// Final output (kind=completed, text jobs).
	Output string `json:"output,omitempty"`
	// Number of stored artifacts (kind=completed, image jobs).
	Artifacts int `json:"artifacts,omitempty"`
	// Failure or cancellation reason (kind=failed).
	Error string `json:"error,omitempty"`
}

// Terminal reports whether the increment ends the stream.
func (i Increment) Terminal() bool {
	switch i.Kind {
	case IncrementCompleted, IncrementFailed, IncrementCancelled:
		return true
	}
	return false
}

// Chunk builds a text-delta increment.
func Chunk(text string) Increment {
	return Increment{Kind: IncrementChunk, Text: text}
}

// Progress builds an image-progress increment.
func Progress(sample, step, steps int, percent float64) Increment {
	return Increment{Kind: IncrementProgress, Sample: sample, Step: step, Steps: steps, Percent: percent}
}

// Completed builds the terminal increment of a successful job.
func Completed(output string, artifacts int) Increment {
	return Increment{Kind: IncrementCompleted, Output: output, Artifacts: artifacts}
}

// Failed builds the terminal increment of a failed job.
func Failed(reason string) Increment {
	return Increment{Kind: IncrementFailed, Error: reason}
}

// Cancelled builds the terminal increment of a cancelled job.
func Cancelled() Increment {
	return Increment{Kind: IncrementCancelled}
}

// TerminalIncrement derives the terminal increment implied by a finished job
// record, for subscribers that attach after the job already ended.
func TerminalIncrement(j *JobRecord) (Increment, bool) {
	switch j.State {
	case StateCompleted:
		return Completed(j.Output, j.ArtifactCount), true
	case StateFailed:
		return Failed(j.Error), true
	case StateCancelled:
		return Cancelled(), true
	}
	return Increment{}, false
}
