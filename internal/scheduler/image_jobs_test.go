package scheduler

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"gend/internal/store"
	"gend/pkg/types"
)

var errFault = errors.New("kernel exploded")

func imageParams() []byte {
	return []byte(`{"prompt":"a lighthouse","width":512,"height":512}`)
}

func TestImageJobStoresArtifacts(t *testing.T) {
	eng := &fakeEngine{
		modality: types.ModalityImage,
		samples:  [][]byte{{0x89, 'P', 'N', 'G', 1}, {0x89, 'P', 'N', 'G', 2}},
	}
	f := newFixture(t, fastConfig(), map[string]*fakeEngine{"sd15": eng})

	id, err := f.s.Submit(context.Background(), alice, "sd15", types.ModalityImage, imageParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	j := waitTerminal(t, f.st, id)
	if j.State != types.StateCompleted {
		t.Fatalf("state = %s (%s)", j.State, j.Error)
	}
	if j.ArtifactCount != 2 {
		t.Fatalf("ArtifactCount = %d, want 2", j.ArtifactCount)
	}
	if j.Output != "" {
		t.Fatalf("image job has text output %q", j.Output)
	}

	metas, err := f.s.Artifacts(context.Background(), alice, id)
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("got %d artifacts, want 2", len(metas))
	}
	for i, m := range metas {
		if m.Seq != i+1 || m.MIME != "image/png" || m.SizeBytes != 5 {
			t.Fatalf("artifact %d metadata wrong: %+v", i, m)
		}
		if len(m.Data) != 0 {
			t.Fatalf("artifact listing leaked payload")
		}
	}

	a, err := f.s.Artifact(context.Background(), alice, id, 2)
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	if !bytes.Equal(a.Data, []byte{0x89, 'P', 'N', 'G', 2}) {
		t.Fatalf("payload = %v", a.Data)
	}

	// Terminal increment carries the artifact count.
	sub, err := f.s.Subscribe(context.Background(), alice, id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	got := collect(t, sub)
	if len(got) != 1 || got[0].Kind != types.IncrementCompleted || got[0].Artifacts != 2 {
		t.Fatalf("terminal increment = %+v", got)
	}
}

func TestArtifactAccessControl(t *testing.T) {
	eng := &fakeEngine{
		modality: types.ModalityImage,
		samples:  [][]byte{{1}},
	}
	f := newFixture(t, fastConfig(), map[string]*fakeEngine{"sd15": eng})

	id, err := f.s.Submit(context.Background(), alice, "sd15", types.ModalityImage, imageParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, f.st, id)

	if _, err := f.s.Artifacts(context.Background(), bob, id); !IsForbidden(err) {
		t.Fatalf("foreign Artifacts = %v, want forbidden", err)
	}
	if _, err := f.s.Artifact(context.Background(), bob, id, 1); !IsForbidden(err) {
		t.Fatalf("foreign Artifact = %v, want forbidden", err)
	}
	if _, err := f.s.Artifacts(context.Background(), root, id); err != nil {
		t.Fatalf("admin Artifacts: %v", err)
	}
}

func TestEngineFaultFailsJobAndFreesSlot(t *testing.T) {
	eng := &fakeEngine{
		modality:  types.ModalityText,
		tokens:    []string{"a", "b", "c"},
		failAfter: 1,
		failErr:   errFault,
	}
	f := newFixture(t, fastConfig(), map[string]*fakeEngine{"tiny": eng})

	id, err := f.s.Submit(context.Background(), alice, "tiny", types.ModalityText, textParams(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	j := waitTerminal(t, f.st, id)
	if j.State != types.StateFailed {
		t.Fatalf("state = %s", j.State)
	}
	if j.Error != "engine fault: kernel exploded" {
		t.Fatalf("error = %q", j.Error)
	}
	if j.Output != "a" {
		t.Fatalf("partial output = %q, want %q", j.Output, "a")
	}

	// The fault must not wedge the slot.
	id2, err := f.s.Submit(context.Background(), alice, "tiny", types.ModalityText, textParams(t))
	if err != nil {
		t.Fatalf("Submit after fault: %v", err)
	}
	if j := waitTerminal(t, f.st, id2); j.State != types.StateFailed {
		// Same scripted engine, same fault; what matters is that it ran.
		t.Fatalf("second job state = %s", j.State)
	}
	if eng.runCount() != 2 {
		t.Fatalf("engine ran %d times, want 2", eng.runCount())
	}
}

func TestListScopedByOwner(t *testing.T) {
	f := newFixture(t, fastConfig(), map[string]*fakeEngine{
		"tiny": {modality: types.ModalityText, tokens: []string{"x"}},
	})

	aID, err := f.s.Submit(context.Background(), alice, "tiny", types.ModalityText, textParams(t))
	if err != nil {
		t.Fatalf("Submit alice: %v", err)
	}
	bID, err := f.s.Submit(context.Background(), bob, "tiny", types.ModalityText, textParams(t))
	if err != nil {
		t.Fatalf("Submit bob: %v", err)
	}
	waitTerminal(t, f.st, aID)
	waitTerminal(t, f.st, bID)

	mine, err := f.s.List(context.Background(), alice, store.Filter{})
	if err != nil {
		t.Fatalf("List alice: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != aID {
		t.Fatalf("alice sees %+v", mine)
	}
	// A non-admin cannot widen the filter to another owner.
	foreign, err := f.s.List(context.Background(), alice, store.Filter{Owner: "bob"})
	if err != nil {
		t.Fatalf("List alice as bob: %v", err)
	}
	if len(foreign) != 1 || foreign[0].ID != aID {
		t.Fatalf("owner filter not pinned: %+v", foreign)
	}
	all, err := f.s.List(context.Background(), root, store.Filter{})
	if err != nil {
		t.Fatalf("List admin: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin sees %d jobs, want 2", len(all))
	}

	if _, err := f.s.Status(context.Background(), bob, aID); !IsForbidden(err) {
		t.Fatalf("foreign Status = %v, want forbidden", err)
	}
}

func TestDeleteTerminalJobOnly(t *testing.T) {
	eng := &fakeEngine{
		modality:    types.ModalityText,
		gate:        make(chan struct{}),
		gateReached: make(chan struct{}),
	}
	f := newFixture(t, fastConfig(), map[string]*fakeEngine{"tiny": eng})

	id, err := f.s.Submit(context.Background(), alice, "tiny", types.ModalityText, textParams(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitReached(t, eng.gateReached)

	if err := f.s.Delete(context.Background(), alice, id); !IsNotFinished(err) {
		t.Fatalf("Delete running = %v, want not-finished", err)
	}
	close(eng.gate)
	waitTerminal(t, f.st, id)

	if err := f.s.Delete(context.Background(), bob, id); !IsForbidden(err) {
		t.Fatalf("foreign Delete = %v, want forbidden", err)
	}
	if err := f.s.Delete(context.Background(), alice, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.st.GetJob(context.Background(), id); !store.IsNotFound(err) {
		t.Fatalf("job survived delete: %v", err)
	}
}
