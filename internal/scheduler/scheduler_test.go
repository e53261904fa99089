package scheduler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gend/internal/config"
	"gend/internal/engine"
	"gend/internal/registry"
	"gend/internal/store"
	"gend/internal/stream"
	"gend/pkg/types"
)

// fakeEngine scripts a generation: emit tokens (optionally pausing at a
// gate), persist samples, fail or honor cancellation on demand.
type fakeEngine struct {
	modality types.Modality
	tokens   []string
	samples  [][]byte
	interval time.Duration // sleep before each token

	gate        chan struct{} // when set, Run blocks here until closed
	gateAfter   int           // number of tokens emitted before the gate
	gateReached chan struct{} // closed once Run hits the gate
	gateOnce    sync.Once

	slowCancel  time.Duration // delay before honoring cancellation
	failAfter   int           // fail after emitting this many tokens
	failErr     error
	validateErr error

	mu      sync.Mutex
	runs    int
	windows [][2]time.Time
}

func (e *fakeEngine) Modality() types.Modality { return e.modality }

func (e *fakeEngine) Validate(_ json.RawMessage) error { return e.validateErr }

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) signalGate() {
	e.gateOnce.Do(func() {
		if e.gateReached != nil {
			close(e.gateReached)
		}
	})
}

func (e *fakeEngine) finishCancel(ctx context.Context) error {
	if e.slowCancel > 0 {
		time.Sleep(e.slowCancel)
	}
	return ctx.Err()
}

func (e *fakeEngine) waitGate(ctx context.Context) error {
	e.signalGate()
	select {
	case <-e.gate:
		return nil
	case <-ctx.Done():
		return e.finishCancel(ctx)
	}
}

func (e *fakeEngine) Run(ctx context.Context, _ json.RawMessage, emit engine.EmitFunc, save engine.SaveFunc) (engine.Result, error) {
	start := time.Now()
	e.mu.Lock()
	e.runs++
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.windows = append(e.windows, [2]time.Time{start, time.Now()})
		e.mu.Unlock()
	}()

	for i, tok := range e.tokens {
		if e.gate != nil && i == e.gateAfter {
			if err := e.waitGate(ctx); err != nil {
				return engine.Result{}, err
			}
		}
		if e.failAfter > 0 && i == e.failAfter {
			return engine.Result{}, e.failErr
		}
		if e.interval > 0 {
			select {
			case <-time.After(e.interval):
			case <-ctx.Done():
				return engine.Result{}, e.finishCancel(ctx)
			}
		} else if ctx.Err() != nil {
			return engine.Result{}, e.finishCancel(ctx)
		}
		emit(types.Chunk(tok))
	}
	if e.gate != nil && e.gateAfter >= len(e.tokens) {
		if err := e.waitGate(ctx); err != nil {
			return engine.Result{}, err
		}
	}
	for i, data := range e.samples {
		if err := save(ctx, "image/png", data); err != nil {
			return engine.Result{}, err
		}
		emit(types.Progress(i+1, 1, 1, float64(i+1)/float64(len(e.samples))*100))
	}
	return engine.Result{FinishReason: "stop"}, nil
}

func (e *fakeEngine) runCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

func (e *fakeEngine) runWindows() [][2]time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][2]time.Time, len(e.windows))
	copy(out, e.windows)
	return out
}

type fixture struct {
	s   *Scheduler
	st  store.Store
	hub *stream.Hub
}

func newFixture(t *testing.T, cfg Config, engines map[string]*fakeEngine) *fixture {
	t.Helper()
	ids := make([]string, 0, len(engines))
	for id := range engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	models := make([]config.Model, 0, len(ids))
	for _, id := range ids {
		models = append(models, config.Model{ID: id, Modality: engines[id].modality, Path: "fake.bin"})
	}
	factory := func(m config.Model, _ zerolog.Logger) (engine.Engine, error) {
		return engines[m.ID], nil
	}
	reg, err := registry.New(models, factory, zerolog.Nop())
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	st := store.NewMemory()
	hub := stream.NewHub(32, zerolog.Nop())
	s := New(st, reg, hub, cfg, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return &fixture{s: s, st: st, hub: hub}
}

func fastConfig() Config {
	return Config{
		CheckpointInterval: 20 * time.Millisecond,
		StoreRetryMax:      2,
		StoreRetryBackoff:  5 * time.Millisecond,
	}
}

var (
	alice = types.Identity{Subject: "alice", Role: "user"}
	bob   = types.Identity{Subject: "bob", Role: "user"}
	root  = types.Identity{Subject: "ops", Role: types.RoleAdmin}
)

func textParams(t *testing.T) json.RawMessage {
	t.Helper()
	return json.RawMessage(`{"prompt":"hi"}`)
}

func waitTerminal(t *testing.T, st store.Store, id uuid.UUID) *types.JobRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := st.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob(%s): %v", id, err)
		}
		if j.State.IsTerminal() {
			return j
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return nil
}

func waitReached(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never reached its gate")
	}
}

func collect(t *testing.T, sub *stream.Subscription) []types.Increment {
	t.Helper()
	var out []types.Increment
	timeout := time.After(5 * time.Second)
	for {
		select {
		case inc, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, inc)
		case <-timeout:
			t.Fatalf("stream never closed; got %d increments", len(out))
		}
	}
}

func TestTextJobStreamsAndCompletes(t *testing.T) {
	eng := &fakeEngine{
		modality:    types.ModalityText,
		tokens:      []string{"a", " b", " c", " d", " e"},
		gate:        make(chan struct{}),
		gateAfter:   0,
		gateReached: make(chan struct{}),
	}
	f := newFixture(t, fastConfig(), map[string]*fakeEngine{"tiny": eng})

	id, err := f.s.Submit(context.Background(), alice, "tiny", types.ModalityText, textParams(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sub, err := f.s.Subscribe(context.Background(), alice, id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitReached(t, eng.gateReached)
	close(eng.gate)

	got := collect(t, sub)
	if len(got) != 6 {
		t.Fatalf("got %d increments, want 6: %+v", len(got), got)
	}
	joined := ""
	for i, inc := range got[:5] {
		if inc.Kind != types.IncrementChunk {
			t.Fatalf("increment %d is %s, want chunk", i, inc.Kind)
		}
		joined += inc.Text
	}
	if joined != "a b c d e" {
		t.Fatalf("streamed text = %q", joined)
	}
	last := got[5]
	if last.Kind != types.IncrementCompleted || last.Output != "a b c d e" {
		t.Fatalf("terminal increment = %+v", last)
	}

	j := waitTerminal(t, f.st, id)
	if j.State != types.StateCompleted {
		t.Fatalf("state = %s", j.State)
	}
	if j.Output != "a b c d e" {
		t.Fatalf("stored output = %q", j.Output)
	}
	if j.StartedAt == nil || j.FinishedAt == nil || j.FinishedAt.Before(*j.StartedAt) {
		t.Fatalf("timestamps wrong: started=%v finished=%v", j.StartedAt, j.FinishedAt)
	}
	if eng.runCount() != 1 {
		t.Fatalf("engine ran %d times", eng.runCount())
	}
}

func TestSameModelJobsSerializeFIFO(t *testing.T) {
	eng := &fakeEngine{
		modality: types.ModalityText,
		tokens:   []string{"x", "y"},
		interval: 10 * time.Millisecond,
	}
	f := newFixture(t, fastConfig(), map[string]*fakeEngine{"tiny": eng})

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id, err := f.s.Submit(context.Background(), alice, "tiny", types.ModalityText, textParams(t))
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	var jobs []*types.JobRecord
	for _, id := range ids {
		jobs = append(jobs, waitTerminal(t, f.st, id))
	}
	for i, j := range jobs {
		if j.State != types.StateCompleted {
			t.Fatalf("job %d state = %s", i, j.State)
		}
	}
	// Submission order is execution order.
	for i := 1; i < len(jobs); i++ {
		if jobs[i].StartedAt.Before(*jobs[i-1].FinishedAt) {
			t.Fatalf("job %d started %v before job %d finished %v",
				i, jobs[i].StartedAt, i-1, jobs[i-1].FinishedAt)
		}
	}
	windows := eng.runWindows()
	if len(windows) != 3 {
		t.Fatalf("engine ran %d times, want 3", len(windows))
	}
	for i := 1; i < len(windows); i++ {
		if windows[i][0].Before(windows[i-1][1]) {
			t.Fatalf("run %d overlapped run %d", i, i-1)
		}
	}
}

func TestDifferentModelsRunConcurrently(t *testing.T) {
	engA := &fakeEngine{
		modality:    types.ModalityText,
		gate:        make(chan struct{}),
		gateReached: make(chan struct{}),
	}
	engB := &fakeEngine{
		modality:    types.ModalityText,
		gate:        make(chan struct{}),
		gateReached: make(chan struct{}),
	}
	f := newFixture(t, fastConfig(), map[string]*fakeEngine{"m-a": engA, "m-b": engB})

	idA, err := f.s.Submit(context.Background(), alice, "m-a", types.ModalityText, textParams(t))
	if err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	idB, err := f.s.Submit(context.Background(), alice, "m-b", types.ModalityText, textParams(t))
	if err != nil {
		t.Fatalf("Submit b: %v", err)
	}

	// Both engines sit at their gates at the same time, so the two slots
	// are independent.
	waitReached(t, engA.gateReached)
	waitReached(t, engB.gateReached)

	snap := f.s.Snapshot()
	running := 0
	for _, lane := range snap {
		if lane.Running != nil {
			running++
		}
	}
	if running != 2 {
		t.Fatalf("running lanes = %d, want 2 (%+v)", running, snap)
	}

	close(engA.gate)
	close(engB.gate)
	if j := waitTerminal(t, f.st, idA); j.State != types.StateCompleted {
		t.Fatalf("job a state = %s", j.State)
	}
	if j := waitTerminal(t, f.st, idB); j.State != types.StateCompleted {
		t.Fatalf("job b state = %s", j.State)
	}
}

func TestStatusOverlaysLiveOutput(t *testing.T) {
	eng := &fakeEngine{
		modality:    types.ModalityText,
		tokens:      []string{"hel", "lo"},
		gate:        make(chan struct{}),
		gateAfter:   2,
		gateReached: make(chan struct{}),
	}
	// Long checkpoint interval: freshness must come from the overlay.
	cfg := fastConfig()
	cfg.CheckpointInterval = time.Hour
	f := newFixture(t, cfg, map[string]*fakeEngine{"tiny": eng})

	id, err := f.s.Submit(context.Background(), alice, "tiny", types.ModalityText, textParams(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitReached(t, eng.gateReached)

	j, err := f.s.Status(context.Background(), alice, id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if j.State != types.StateRunning {
		t.Fatalf("state = %s, want running", j.State)
	}
	if j.Output != "hello" {
		t.Fatalf("overlaid output = %q, want %q", j.Output, "hello")
	}

	close(eng.gate)
	waitTerminal(t, f.st, id)
}
