package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/H4MSA/solivrah/internal/ai"
	"github.com/H4MSA/solivrah/internal/auth"
	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/quest"
)

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ai": s.ai.Usage()})
}

// handleAssistant serves affirmations and coaching replies, selected by the
// "type" field of the body.
func (s *Service) handleAssistant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}
	var op ai.Operation
	switch strings.ToLower(strings.TrimSpace(envelope.Type)) {
	case "affirmation":
		op = ai.OpAffirmation
	case "coaching", "":
		op = ai.OpCoaching
	default:
		writeError(w, http.StatusBadRequest, "unknown assistant type "+envelope.Type)
		return
	}
	s.invokeIn(w, r, slotKey(r, op, raw), op, raw)
}

func (s *Service) handleChatbot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	s.invokeIn(w, r, slotKey(r, ai.OpChatbot, raw), ai.OpChatbot, raw)
}

func (s *Service) handleMoodJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	s.invoke(w, r, ai.OpMood, raw)
}

func (s *Service) invoke(w http.ResponseWriter, r *http.Request, op ai.Operation, raw json.RawMessage) {
	s.invokeIn(w, r, "", op, raw)
}

// invokeIn runs op in the request slot key. A newer request on the same
// key cancels this one, which then answers 503.
func (s *Service) invokeIn(w http.ResponseWriter, r *http.Request, key string, op ai.Operation, raw json.RawMessage) {
	ctx := r.Context()
	if key != "" {
		var release func()
		ctx, release = s.ai.Slot(ctx, key)
		defer release()
	}
	res, err := s.ai.Invoke(ctx, op, raw)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// slotKey is op plus the body's conversationId, falling back to the API key
// user. Localhost callers without a conversationId get no slot.
func slotKey(r *http.Request, op ai.Operation, raw json.RawMessage) string {
	var body struct {
		ConversationID string `json:"conversationId"`
	}
	json.Unmarshal(raw, &body)
	owner := strings.TrimSpace(body.ConversationID)
	if owner == "" {
		if info, ok := auth.FromContext(r.Context()); ok {
			owner = info.UserID
		}
	}
	if owner == "" {
		return ""
	}
	return string(op) + ":" + owner
}

// handleRoadmap generates a roadmap. With a userId in the body the result
// is stored for that user, and seeds their quests when they have none yet.
func (s *Service) handleRoadmap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var envelope struct {
		UserID string `json:"userId"`
		Theme  string `json:"theme"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}
	userID := strings.TrimSpace(envelope.UserID)
	var theme core.Theme
	if envelope.Theme != "" {
		t, err := core.ParseTheme(envelope.Theme)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		theme = t
	}
	if userID != "" && !authorize(w, r, userID) {
		return
	}

	var req ai.RoadmapRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}
	resp, err := s.ai.Roadmap(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if userID != "" {
		if err := s.storeRoadmap(r, userID, theme, resp.Roadmap); err != nil {
			writeFailure(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) storeRoadmap(r *http.Request, userID string, theme core.Theme, rm core.Roadmap) error {
	ctx := r.Context()
	stored := core.StoredRoadmap{UserID: userID, Roadmap: rm, CreatedAt: time.Now().UTC()}
	if err := s.store.SaveRoadmap(ctx, stored); err != nil {
		return fmt.Errorf("save roadmap: %w", err)
	}
	s.publish(userID, core.EventRoadmapCreated, userID, stored)

	existing, err := s.store.ListQuests(ctx, userID)
	if err != nil {
		return fmt.Errorf("list quests: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	quests := quest.FromRoadmap(userID, rm, theme)
	for _, q := range quests {
		if err := s.store.SaveQuest(ctx, q); err != nil {
			return fmt.Errorf("seed quest %s: %w", q.ID, err)
		}
	}
	log.Printf("http: seeded %d quests for %s", len(quests), userID)
	return nil
}

func (s *Service) handleRoadmapByUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/roadmap/"), "/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}
	if !authorize(w, r, userID) {
		return
	}
	rm, err := s.store.LatestRoadmap(r.Context(), userID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// handleVerifyPhoto accepts a multipart form with either a "photo" file,
// sent to the model inline as a data URL, or an "imageUrl" field.
func (s *Service) handleVerifyPhoto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes+maxJSONBody)
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := ai.VerifyRequest{
		ImageURL:         strings.TrimSpace(r.FormValue("imageUrl")),
		QuestID:          r.FormValue("questId"),
		QuestTitle:       r.FormValue("questTitle"),
		QuestDescription: r.FormValue("questDescription"),
	}
	if file, _, err := r.FormFile("photo"); err == nil {
		data, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
		file.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable photo")
			return
		}
		if len(data) > maxPhotoBytes {
			writeError(w, http.StatusBadRequest, "photo too large")
			return
		}
		req.ImageURL = dataURL(data)
	}
	resp, err := s.ai.VerifyPhoto(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func dataURL(data []byte) string {
	mediaType := http.DetectContentType(data)
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
