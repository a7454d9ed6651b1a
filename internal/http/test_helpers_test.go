package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/H4MSA/solivrah/internal/ai"
	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/storage/sqlite"
	"github.com/H4MSA/solivrah/internal/ws"
)

// stubBackend answers every operation with canned content and records the
// last payload per operation. With hold set, calls report on started and
// block until hold closes or their context ends.
type stubBackend struct {
	mu      sync.Mutex
	fail    bool
	last    map[ai.Operation]any
	hold    chan struct{}
	started chan ai.Operation
}

func (b *stubBackend) Call(ctx context.Context, op ai.Operation, payload any, out any) error {
	b.mu.Lock()
	if b.last == nil {
		b.last = make(map[ai.Operation]any)
	}
	b.last[op] = payload
	fail, hold, started := b.fail, b.hold, b.started
	b.mu.Unlock()
	if hold != nil {
		started <- op
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return ai.Permanent(context.DeadlineExceeded)
	}
	switch o := out.(type) {
	case *ai.AffirmationResponse:
		o.Affirmation = "You show up every day."
	case *ai.ReplyResponse:
		o.Reply = "Start with five minutes."
	case *ai.MoodResponse:
		o.Mood = "hopeful"
	case *ai.VerifyResponse:
		o.Verified = true
	case *ai.RoadmapResponse:
		o.Roadmap.Theme = "Focus"
		o.Roadmap.Goal = "read more"
		for d := 1; d <= 3; d++ {
			o.Roadmap.Days = append(o.Roadmap.Days, core.RoadmapDay{
				Day: d, Title: "Read", Description: "Read a chapter", Tasks: []string{"open the book"},
			})
		}
	}
	return nil
}

func (b *stubBackend) lastPayload(op ai.Operation) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last[op]
}

func (b *stubBackend) holdCalls(hold chan struct{}, started chan ai.Operation) {
	b.mu.Lock()
	b.hold, b.started = hold, started
	b.mu.Unlock()
}

func (b *stubBackend) setFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

// testEnv bundles a Service + httptest.Server + ws.Hub for handler tests.
// Uses localhost auth bypass so no API key is needed for requests.
type testEnv struct {
	srv     *httptest.Server
	hub     *ws.Hub
	store   *sqlite.Store
	backend *stubBackend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	backend := &stubBackend{}
	client := ai.New(backend, ai.WithSleep(func(context.Context, time.Duration) error { return nil }))
	hub := ws.NewHub()
	svc := NewService(client, st).WithBroadcaster(hub)
	srv := httptest.NewServer(NewRouter(svc, hub.Handler(), nil))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, hub: hub, store: st, backend: backend}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) postRaw(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) put(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut, e.srv.URL+path, bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", path, err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
}
