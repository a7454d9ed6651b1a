package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/H4MSA/solivrah/internal/core"
)

// handleProgress serves GET|PUT /api/progress/{userId}.
func (s *Service) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/progress/"), "/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}
	if !authorize(w, r, userID) {
		return
	}
	id := core.Authenticated(userID)

	switch r.Method {
	case http.MethodGet:
		rec, err := s.store.Load(r.Context(), id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		if rec == nil {
			writeError(w, http.StatusNotFound, "no progress stored")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut:
		raw, ok := readBody(w, r)
		if !ok {
			return
		}
		var rec core.ProgressRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			writeError(w, http.StatusBadRequest, "malformed progress record")
			return
		}
		if err := rec.Validate(); err != nil {
			writeFailure(w, r, err)
			return
		}
		if err := s.store.Save(r.Context(), id, rec); err != nil {
			writeFailure(w, r, err)
			return
		}
		s.publish(userID, core.EventProgressUpdated, userID, rec)
		writeJSON(w, http.StatusOK, rec)
	default:
		methodNotAllowed(w)
	}
}

// handleQuests serves GET /api/quests/{userId} and
// PUT /api/quests/{userId}/{questId}. A PUT that would reopen a completed
// quest is refused unless ?replace=true marks it as part of a new set.
func (s *Service) handleQuests(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/quests/"), "/"), "/")
	userID := parts[0]
	if userID == "" || len(parts) > 2 {
		writeError(w, http.StatusBadRequest, "expected /api/quests/{userId}[/{questId}]")
		return
	}
	if !authorize(w, r, userID) {
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		quests, err := s.store.ListQuests(r.Context(), userID)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		if quests == nil {
			quests = []core.Quest{}
		}
		writeJSON(w, http.StatusOK, quests)
		return
	}

	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var q core.Quest
	if err := json.Unmarshal(raw, &q); err != nil {
		writeError(w, http.StatusBadRequest, "malformed quest")
		return
	}
	q.ID = parts[1]
	q.UserID = userID
	q.PendingSync = false
	if err := q.Validate(); err != nil {
		writeFailure(w, r, err)
		return
	}
	if !q.Completed && r.URL.Query().Get("replace") != "true" {
		reopens, err := s.completedQuest(r.Context(), userID, q.ID)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		if reopens {
			writeError(w, http.StatusConflict, "quest already completed")
			return
		}
	}
	if err := s.store.SaveQuest(r.Context(), q); err != nil {
		writeFailure(w, r, err)
		return
	}
	if q.Completed {
		s.publish(userID, core.EventQuestCompleted, q.ID, q)
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Service) completedQuest(ctx context.Context, userID, questID string) (bool, error) {
	quests, err := s.store.ListQuests(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, q := range quests {
		if q.ID == questID {
			return q.Completed, nil
		}
	}
	return false, nil
}
