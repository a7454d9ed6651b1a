package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/H4MSA/solivrah/internal/auth"
	"github.com/H4MSA/solivrah/internal/core"
)

func newServer(t *testing.T, hub *Hub, ring *auth.Keyring) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws/users/", auth.Middleware(ring)(hub.Handler()))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// dialWS connects and waits until the hub has registered the connection.
func dialWS(t *testing.T, hub *Hub, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/users/" + user
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	before := hub.Connections(user)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial %s: %v", user, err)
	}
	for hub.Connections(user) == before {
		if ctx.Err() != nil {
			t.Fatalf("connection for %s never registered", user)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readWSEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var event map[string]any
	if err := wsjson.Read(ctx, conn, &event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return event
}

func TestWSAuthRejection(t *testing.T) {
	hub := NewHub()
	ring := auth.NewKeyring(true, map[string]string{"secret-a": "u1"})
	h := auth.Middleware(ring)(hub.Handler())

	req := httptest.NewRequest(http.MethodGet, "/ws/users/u1", nil)
	req.RemoteAddr = "203.0.113.10:9999"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws/users/u2", nil)
	req.RemoteAddr = "203.0.113.10:9999"
	req.Header.Set("Authorization", "Bearer secret-a")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user mismatch, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws/users/", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user, got %d", rr.Code)
	}
}

func TestWSBroadcastTargetsUser(t *testing.T) {
	hub := NewHub()
	srv := newServer(t, hub, nil)

	a1 := dialWS(t, hub, srv, "u1")
	defer a1.Close(websocket.StatusNormalClosure, "")
	a2 := dialWS(t, hub, srv, "u1")
	defer a2.Close(websocket.StatusNormalClosure, "")
	b := dialWS(t, hub, srv, "u2")
	defer b.Close(websocket.StatusNormalClosure, "")

	hub.Broadcast("u1", core.Event{ID: "e1", Type: core.EventQuestCompleted, UserID: "u1"})

	for _, conn := range []*websocket.Conn{a1, a2} {
		if ev := readWSEvent(t, conn, 2*time.Second); ev["type"] != string(core.EventQuestCompleted) {
			t.Fatalf("expected quest.completed, got %v", ev["type"])
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var noop map[string]any
	if err := wsjson.Read(ctx, b, &noop); err == nil {
		t.Fatal("u2 should not receive u1 events")
	}
}

func TestWSSubscriptionCleanup(t *testing.T) {
	hub := NewHub()
	srv := newServer(t, hub, nil)

	conn := dialWS(t, hub, srv, "u1")
	conn.Close(websocket.StatusNormalClosure, "done")

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections("u1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed connection was not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// broadcasting to a user without connections is a no-op
	hub.Broadcast("u1", core.Event{Type: core.EventProgressUpdated})
}
