package core

import (
	"strings"
	"time"
)

type EventType string

const (
	EventProgressUpdated EventType = "progress.updated"
	EventQuestCompleted  EventType = "quest.completed"
	EventQuestSynced     EventType = "quest.synced"
	EventRoadmapCreated  EventType = "roadmap.created"
)

// Event is pushed to websocket subscribers of a user.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	EntityID  string    `json:"entity_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is either a guest (no server identity) or an authenticated user.
// It is decided by the authentication collaborator and only read here.
type Identity struct {
	UserID string
}

func Guest() Identity { return Identity{} }

func Authenticated(userID string) Identity {
	return Identity{UserID: strings.TrimSpace(userID)}
}

func (i Identity) IsGuest() bool { return i.UserID == "" }

// Key identifies the persistence queue for this identity.
func (i Identity) Key() string {
	if i.IsGuest() {
		return "guest"
	}
	return "user:" + i.UserID
}

func (i Identity) String() string { return i.Key() }

// ProgressRecord is a single user's progress snapshot.
type ProgressRecord struct {
	XP                  int       `json:"xp"`
	Streak              int       `json:"streak"`
	Theme               Theme     `json:"theme"`
	CompletedQuestCount int       `json:"completed_quests"`
	UpdatedAt           time.Time `json:"updated_at,omitempty"`
}

// DefaultProgress is the zeroed record used when nothing is stored yet.
func DefaultProgress() ProgressRecord {
	return ProgressRecord{Theme: DefaultTheme}
}

func (r ProgressRecord) Validate() error {
	switch {
	case r.XP < 0:
		return &ValidationError{Field: "xp", Reason: "must be non-negative"}
	case r.Streak < 0:
		return &ValidationError{Field: "streak", Reason: "must be non-negative"}
	case r.CompletedQuestCount < 0:
		return &ValidationError{Field: "completed_quests", Reason: "must be non-negative"}
	case !r.Theme.IsValid():
		return &ValidationError{Field: "theme", Reason: "unknown theme " + string(r.Theme)}
	}
	return nil
}

// SameProgress compares the persisted fields, ignoring UpdatedAt.
func (r ProgressRecord) SameProgress(o ProgressRecord) bool {
	return r.XP == o.XP && r.Streak == o.Streak && r.Theme == o.Theme && r.CompletedQuestCount == o.CompletedQuestCount
}
