package httpapi

import (
	"net/http"
)

// NewRouter mounts every endpoint behind mw. wsHandler, when set, serves
// /ws/users/{userId}.
func NewRouter(svc *Service, wsHandler http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.Handler {
		handler := http.Handler(h)
		if mw != nil {
			handler = mw(handler)
		}
		return handler
	}

	mux.HandleFunc("/health", svc.handleHealth)

	mux.Handle("/assistant", wrap(svc.handleAssistant))
	mux.Handle("/chatbot", wrap(svc.handleChatbot))
	mux.Handle("/roadmap", wrap(svc.handleRoadmap))
	mux.Handle("/roadmap/", wrap(svc.handleRoadmapByUser))
	mux.Handle("/mood-journal", wrap(svc.handleMoodJournal))
	mux.Handle("/verify-photo", wrap(svc.handleVerifyPhoto))

	mux.Handle("/api/progress/", wrap(svc.handleProgress))
	mux.Handle("/api/quests/", wrap(svc.handleQuests))

	if wsHandler != nil {
		if mw != nil {
			mux.Handle("/ws/users/", mw(wsHandler))
		} else {
			mux.Handle("/ws/users/", wsHandler)
		}
	}
	return mux
}
