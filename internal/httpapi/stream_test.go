package httpapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"gend/internal/scheduler"
	"gend/internal/stream"
	"gend/pkg/types"
)

func TestStreamEmitsNDJSONUntilTerminal(t *testing.T) {
	svc := &fakeService{sub: stream.Closed(
		types.Chunk("hel"),
		types.Chunk("lo"),
		types.Completed("hello", 0),
	)}
	h := newTestHandler(svc)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authed(http.MethodGet, "/api/v1/jobs/"+uuid.NewString()+"/stream", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content-type=%s", ct)
	}

	var incs []types.Increment
	sc := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for sc.Scan() {
		var inc types.Increment
		if err := json.Unmarshal(sc.Bytes(), &inc); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		incs = append(incs, inc)
	}
	if len(incs) != 3 {
		t.Fatalf("lines=%d body=%s", len(incs), w.Body.String())
	}
	if incs[0].Text != "hel" || incs[1].Text != "lo" {
		t.Fatalf("chunks=%+v", incs[:2])
	}
	last := incs[2]
	if !last.Terminal() || last.Kind != types.IncrementCompleted || last.Output != "hello" {
		t.Fatalf("terminal=%+v", last)
	}
}

func TestStreamLateSubscriberGetsSingleTerminalLine(t *testing.T) {
	svc := &fakeService{sub: stream.Closed(types.Cancelled())}
	h := newTestHandler(svc)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authed(http.MethodGet, "/api/v1/jobs/"+uuid.NewString()+"/stream", nil))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%d body=%q", len(lines), w.Body.String())
	}
	var inc types.Increment
	if err := json.Unmarshal([]byte(lines[0]), &inc); err != nil {
		t.Fatalf("json: %v", err)
	}
	if inc.Kind != types.IncrementCancelled {
		t.Fatalf("kind=%s", inc.Kind)
	}
}

func TestStreamSubscribeErrorsMapToStatus(t *testing.T) {
	id := uuid.New()
	svc := &fakeService{subErr: scheduler.ErrForbidden(id)}
	h := newTestHandler(svc)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authed(http.MethodGet, "/api/v1/jobs/"+id.String()+"/stream", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
}

func TestStreamProgressIncrements(t *testing.T) {
	svc := &fakeService{sub: stream.Closed(
		types.Progress(1, 5, 15, 33.3),
		types.Completed("", 1),
	)}
	h := newTestHandler(svc)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authed(http.MethodGet, "/api/v1/jobs/"+uuid.NewString()+"/stream", nil))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d", len(lines))
	}
	var inc types.Increment
	if err := json.Unmarshal([]byte(lines[0]), &inc); err != nil {
		t.Fatalf("json: %v", err)
	}
	if inc.Kind != types.IncrementProgress || inc.Sample != 1 || inc.Steps != 15 {
		t.Fatalf("progress=%+v", inc)
	}
}
