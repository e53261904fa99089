package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"gend/pkg/types"
)

// cancelCause records why a running job's context was cancelled so the
// worker can pick the right terminal state. The first cause wins.
type cancelCause int

const (
	causeNone cancelCause = iota
	causeUser
	causeShutdown
	causeStore
)

// jobHandle is the scheduler's in-memory view of a non-terminal job.
//
// state, cancel and ready are guarded by the scheduler mutex. The output
// accumulator and cancel cause have their own lock so the token path never
// contends with queue surgery. saved is owned by the worker goroutine.
type jobHandle struct {
	id       uuid.UUID
	owner    string
	modelID  string
	modality types.Modality
	params   json.RawMessage

	state  types.JobState
	ready  bool
	cancel context.CancelFunc

	saved int // artifacts stored so far; worker goroutine only

	mu    sync.Mutex
	out   strings.Builder
	cause cancelCause
}

func (h *jobHandle) appendOutput(s string) {
	h.mu.Lock()
	h.out.WriteString(s)
	h.mu.Unlock()
}

func (h *jobHandle) partialOutput() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out.String()
}

// markCancel records the cancellation cause; later causes never override
// the first so a user cancel stays a cancel even when shutdown follows.
func (h *jobHandle) markCancel(c cancelCause) {
	h.mu.Lock()
	if h.cause == causeNone {
		h.cause = c
	}
	h.mu.Unlock()
}

func (h *jobHandle) cancelCause() cancelCause {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cause
}
