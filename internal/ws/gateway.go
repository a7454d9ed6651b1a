// Package ws pushes progress and quest events to connected devices of a user.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/H4MSA/solivrah/internal/auth"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Hub tracks open connections per user id.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*websocket.Conn]struct{})}
}

// Handler serves /ws/users/{userId}. Inbound frames are read and discarded
// so the connection notices when the peer goes away.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/users/"), "/")
		if user == "" || strings.Contains(user, "/") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if info, ok := auth.FromContext(r.Context()); ok && !info.Allows(user) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		h.add(user, conn)
		defer h.remove(user, conn)

		ctx := r.Context()
		for {
			var v any
			if err := wsjson.Read(ctx, conn, &v); err != nil {
				return
			}
		}
	}
}

// Broadcast writes event to every connection of userID. Connections that
// fail a write are closed and dropped.
func (h *Hub) Broadcast(userID string, event any) {
	for _, conn := range h.snapshot(userID) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, conn, event)
		cancel()
		if err != nil {
			go func(c *websocket.Conn) {
				c.Close(websocket.StatusGoingAway, "write error")
				h.remove(userID, c)
			}(conn)
		}
	}
}

// Connections reports how many sockets userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

func (h *Hub) snapshot(userID string) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(h.conns[userID]))
	for conn := range h.conns[userID] {
		out = append(out, conn)
	}
	return out
}

func (h *Hub) add(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perUser, ok := h.conns[userID]
	if !ok {
		perUser = make(map[*websocket.Conn]struct{})
		h.conns[userID] = perUser
	}
	perUser[conn] = struct{}{}
}

func (h *Hub) remove(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perUser, ok := h.conns[userID]
	if !ok {
		return
	}
	delete(perUser, conn)
	if len(perUser) == 0 {
		delete(h.conns, userID)
	}
}
