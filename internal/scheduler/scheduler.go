package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gend/internal/registry"
	"gend/internal/store"
	"gend/internal/stream"
	"gend/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultCheckpointInterval = 2 * time.Second
	defaultStoreRetryMax      = 3
	defaultStoreRetryBackoff  = 250 * time.Millisecond
	defaultQueueDepth         = 64
)

// Config encapsulates the scheduler tunables.
type Config struct {
	// CheckpointInterval bounds how much streamed text a crash can lose.
	CheckpointInterval time.Duration
	// StoreRetryMax is the number of retries after a failed store write.
	StoreRetryMax int
	// StoreRetryBackoff is the base delay between retries, growing linearly.
	StoreRetryBackoff time.Duration
	// QueueDepth caps each model's wait list.
	QueueDepth int
}

// lane is one model's execution slot: a FIFO wait list and at most one
// running handle. Two lanes never contend.
type lane struct {
	waiting []*jobHandle
	running *jobHandle
}

// Scheduler serializes job execution per model and owns every job from
// admission to its terminal store write.
type Scheduler struct {
	store store.Store
	reg   *registry.Registry
	hub   *stream.Hub
	cfg   Config
	log   zerolog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	jobs   map[uuid.UUID]*jobHandle
	closed bool
	wg     sync.WaitGroup
}

// New constructs a Scheduler. Lanes are created lazily per model id.
func New(st store.Store, reg *registry.Registry, hub *stream.Hub, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = defaultCheckpointInterval
	}
	if cfg.StoreRetryMax <= 0 {
		cfg.StoreRetryMax = defaultStoreRetryMax
	}
	if cfg.StoreRetryBackoff <= 0 {
		cfg.StoreRetryBackoff = defaultStoreRetryBackoff
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	return &Scheduler{
		store: st,
		reg:   reg,
		hub:   hub,
		cfg:   cfg,
		log:   log.With().Str("component", "scheduler").Logger(),
		lanes: make(map[string]*lane),
		jobs:  make(map[uuid.UUID]*jobHandle),
	}
}

// Draining reports whether Close has started.
func (s *Scheduler) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Snapshot reports the live queue state per model, sorted by model id.
func (s *Scheduler) Snapshot() []types.LaneStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.LaneStatus, 0, len(s.lanes))
	for id, l := range s.lanes {
		st := types.LaneStatus{ModelID: id, Waiting: len(l.waiting)}
		if l.running != nil {
			rid := l.running.id
			st.Running = &rid
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Close refuses new submissions, flushes queued jobs to cancelled, cancels
// running workers (they finalize as failed, interrupted by shutdown) and
// waits for them up to ctx's deadline.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var flushed []*jobHandle
	for _, l := range s.lanes {
		for _, h := range l.waiting {
			h.state = types.StateCancelled
			delete(s.jobs, h.id)
			queueDepth.WithLabelValues(h.modelID).Dec()
			flushed = append(flushed, h)
		}
		l.waiting = nil
		if l.running != nil {
			l.running.markCancel(causeShutdown)
			l.running.cancel()
		}
	}
	s.mu.Unlock()

	for _, h := range flushed {
		s.finalizeQueued(h, reasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("scheduler drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler drain: %w", ctx.Err())
	}
}

// laneLocked returns the model's lane, creating it on first use. Caller
// holds s.mu.
func (s *Scheduler) laneLocked(modelID string) *lane {
	l, ok := s.lanes[modelID]
	if !ok {
		l = &lane{}
		s.lanes[modelID] = l
	}
	return l
}
