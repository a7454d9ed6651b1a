// Package httpapi serves the AI endpoints and the progress/quest API used
// by remote devices.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/H4MSA/solivrah/internal/ai"
	"github.com/H4MSA/solivrah/internal/auth"
	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/storage"
)

const (
	maxJSONBody   = 1 << 20
	maxPhotoBytes = 10 << 20
)

type Service struct {
	ai    *ai.Client
	store storage.DomainStore
	bus   Broadcaster
}

type Broadcaster interface {
	Broadcast(userID string, event any)
}

func NewService(client *ai.Client, store storage.DomainStore) *Service {
	return &Service{ai: client, store: store}
}

func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.bus = b
	return s
}

func (s *Service) publish(userID string, typ core.EventType, entityID string, data any) {
	if s.bus == nil || userID == "" {
		return
	}
	s.bus.Broadcast(userID, core.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		EntityID:  entityID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	})
}

// authorize writes 403 and returns false when the caller may not act on
// userID.
func authorize(w http.ResponseWriter, r *http.Request, userID string) bool {
	info, ok := auth.FromContext(r.Context())
	if ok && !info.Allows(userID) {
		writeError(w, http.StatusForbidden, "user mismatch")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps err onto a status code.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case core.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, context.Canceled), errors.Is(err, core.ErrSuperseded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		log.Printf("http: %s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return nil, false
	}
	return raw, true
}
