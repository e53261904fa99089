// Package stream fans job increments out to HTTP subscribers.
//
// The hub sits between the scheduler (single producer per job) and any
// number of stream consumers. Publishing never blocks: a subscriber that
// stops draining loses its oldest buffered increments first, so the
// terminal increment always lands before the channel closes.
package stream

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gend/pkg/types"
)

// DefaultBuffer is the per-subscriber channel capacity when the
// configured value is zero.
const DefaultBuffer = 64

type subscriber struct {
	ch chan types.Increment
}

type feed struct {
	subs map[*subscriber]struct{}
}

// Subscription is one consumer's view of a job's increment stream. C is
// closed after the terminal increment (or after Cancel).
type Subscription struct {
	C      <-chan types.Increment
	cancel func()
}

// Cancel detaches the subscription and closes C. Safe to call repeatedly
// and after the stream finished.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Closed builds an already-finished subscription delivering just the given
// increments, for consumers that attach after the job ended.
func Closed(incs ...types.Increment) *Subscription {
	ch := make(chan types.Increment, len(incs))
	for _, inc := range incs {
		ch <- inc
	}
	close(ch)
	return &Subscription{C: ch, cancel: func() {}}
}

// Hub tracks one feed per live job.
type Hub struct {
	mu    sync.Mutex
	feeds map[uuid.UUID]*feed
	buf   int
	log   zerolog.Logger

	dropped uint64
}

func NewHub(buf int, log zerolog.Logger) *Hub {
	if buf <= 0 {
		buf = DefaultBuffer
	}
	return &Hub{
		feeds: make(map[uuid.UUID]*feed),
		buf:   buf,
		log:   log.With().Str("component", "stream").Logger(),
	}
}

// Open creates the feed for a job. Called once at submission so
// subscribers can attach while the job is still queued. Opening an
// already-open feed is a no-op.
func (h *Hub) Open(jobID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.feeds[jobID]; !ok {
		h.feeds[jobID] = &feed{subs: make(map[*subscriber]struct{})}
	}
}

// Subscribe attaches to a live feed. ok is false when the job has no
// feed (unknown id, or already finished); callers then fall back to the
// job record for a terminal increment.
func (h *Hub) Subscribe(jobID uuid.UUID) (*Subscription, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[jobID]
	if !ok {
		return nil, false
	}
	s := &subscriber{ch: make(chan types.Increment, h.buf)}
	f.subs[s] = struct{}{}
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		cur, ok := h.feeds[jobID]
		if !ok {
			return // feed finished; Finish already closed the channel
		}
		if _, ok := cur.subs[s]; ok {
			delete(cur.subs, s)
			close(s.ch)
		}
	}
	return &Subscription{C: s.ch, cancel: cancel}, true
}

// Publish delivers inc to every subscriber of the job's feed. Publishing
// to an unknown or finished feed is a no-op.
func (h *Hub) Publish(jobID uuid.UUID, inc types.Increment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[jobID]
	if !ok {
		return
	}
	for s := range f.subs {
		h.send(jobID, s, inc)
	}
}

// Finish delivers the terminal increment, closes every subscriber
// channel, and removes the feed. Idempotent.
func (h *Hub) Finish(jobID uuid.UUID, terminal types.Increment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[jobID]
	if !ok {
		return
	}
	delete(h.feeds, jobID)
	for s := range f.subs {
		h.send(jobID, s, terminal)
		close(s.ch)
	}
}

// Subscribers reports the subscriber count for a job's feed.
func (h *Hub) Subscribers(jobID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[jobID]
	if !ok {
		return 0
	}
	return len(f.subs)
}

// Dropped reports how many increments were discarded hub-wide because a
// subscriber buffer was full.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// send enqueues without blocking, evicting the subscriber's oldest
// buffered increment when it is full. The hub is the only sender on
// s.ch, so the loop terminates after at most one eviction.
func (h *Hub) send(jobID uuid.UUID, s *subscriber, inc types.Increment) {
	for {
		select {
		case s.ch <- inc:
			return
		default:
		}
		select {
		case <-s.ch:
			h.dropped++
			h.log.Debug().Str("job_id", jobID.String()).Msg("slow subscriber, dropped oldest increment")
		default:
		}
	}
}
