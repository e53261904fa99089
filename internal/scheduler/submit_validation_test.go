package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"gend/internal/registry"
	"gend/internal/store"
	"gend/pkg/types"
)

func TestSubmitUnknownModelCreatesNoRecord(t *testing.T) {
	f := newFixture(t, fastConfig(), map[string]*fakeEngine{
		"tiny": {modality: types.ModalityText},
	})

	_, err := f.s.Submit(context.Background(), alice, "nope", types.ModalityText, textParams(t))
	if !registry.IsUnknownModel(err) {
		t.Fatalf("Submit = %v, want unknown-model", err)
	}
	jobs, err := f.st.ListJobs(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("a record was created: %+v", jobs)
	}
}

func TestSubmitInvalidParamsCreatesNoRecord(t *testing.T) {
	f := newFixture(t, fastConfig(), map[string]*fakeEngine{
		"tiny": {modality: types.ModalityText, validateErr: errors.New("prompt is required")},
	})

	_, err := f.s.Submit(context.Background(), alice, "tiny", types.ModalityText, textParams(t))
	if !IsInvalidParams(err) {
		t.Fatalf("Submit = %v, want invalid-params", err)
	}
	jobs, err := f.st.ListJobs(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("a record was created: %+v", jobs)
	}
}

func TestSubmitModalityMismatch(t *testing.T) {
	f := newFixture(t, fastConfig(), map[string]*fakeEngine{
		"tiny": {modality: types.ModalityText},
	})

	_, err := f.s.Submit(context.Background(), alice, "tiny", types.ModalityImage, textParams(t))
	if !IsInvalidParams(err) {
		t.Fatalf("Submit = %v, want invalid-params", err)
	}
}

func TestSubmitQueueDepthCap(t *testing.T) {
	eng := &fakeEngine{
		modality:    types.ModalityText,
		gate:        make(chan struct{}),
		gateReached: make(chan struct{}),
	}
	cfg := fastConfig()
	cfg.QueueDepth = 1
	f := newFixture(t, cfg, map[string]*fakeEngine{"tiny": eng})

	running, err := f.s.Submit(context.Background(), alice, "tiny", types.ModalityText, textParams(t))
	if err != nil {
		t.Fatalf("Submit running: %v", err)
	}
	waitReached(t, eng.gateReached)
	queued, err := f.s.Submit(context.Background(), alice, "tiny", types.ModalityText, textParams(t))
	if err != nil {
		t.Fatalf("Submit queued: %v", err)
	}
	if _, err := f.s.Submit(context.Background(), alice, "tiny", types.ModalityText, textParams(t)); !IsTooBusy(err) {
		t.Fatalf("Submit over cap = %v, want too-busy", err)
	}

	close(eng.gate)
	waitTerminal(t, f.st, running)
	waitTerminal(t, f.st, queued)
}

func TestStatusAndErrorStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrInvalidParams("x"), 400},
		{ErrForbidden(uuid.Nil), 403},
		{ErrTooBusy("m"), 429},
		{ErrDraining(), 503},
		{ErrNotFinished(uuid.Nil), 409},
	}
	for _, c := range cases {
		sc, ok := c.err.(interface{ StatusCode() int })
		if !ok {
			t.Fatalf("%T does not expose StatusCode", c.err)
		}
		if got := sc.StatusCode(); got != c.want {
			t.Fatalf("%T StatusCode = %d, want %d", c.err, got, c.want)
		}
	}
}
