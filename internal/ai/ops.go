package ai

import (
	"strings"

	"github.com/H4MSA/solivrah/internal/core"
)

// Operation names an AI-backed feature.
type Operation string

const (
	OpAffirmation  Operation = "affirmation"
	OpCoaching     Operation = "coaching"
	OpChatbot      Operation = "chatbot"
	OpRoadmap      Operation = "roadmap"
	OpMood         Operation = "mood"
	OpVerification Operation = "verification"
)

func (o Operation) IsValid() bool {
	switch o {
	case OpAffirmation, OpCoaching, OpChatbot, OpRoadmap, OpMood, OpVerification:
		return true
	default:
		return false
	}
}

// UserProfile is optional context forwarded to the model.
type UserProfile struct {
	Username string     `json:"username,omitempty"`
	Theme    core.Theme `json:"theme,omitempty"`
	XP       int        `json:"xp,omitempty"`
	Streak   int        `json:"streak,omitempty"`
}

type AffirmationRequest struct {
	Theme    core.Theme `json:"theme"`
	Username string     `json:"username,omitempty"`
	Mood     string     `json:"mood,omitempty"`
}

func (r AffirmationRequest) Validate() error {
	if !r.Theme.IsValid() {
		return &core.ValidationError{Field: "theme", Reason: "unknown theme " + string(r.Theme)}
	}
	return nil
}

type AffirmationResponse struct {
	Affirmation string `json:"affirmation"`
	Fallback    bool   `json:"fallback,omitempty"`
}

type CoachingRequest struct {
	Message     string       `json:"message"`
	Mood        string       `json:"mood"`
	Context     string       `json:"context"`
	UserProfile *UserProfile `json:"userProfile,omitempty"`
}

func (r CoachingRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return &core.ValidationError{Field: "message", Reason: "required"}
	}
	return nil
}

type Personality string

const (
	PersonalityPlayful      Personality = "playful"
	PersonalityProfessional Personality = "professional"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message     string        `json:"message"`
	Personality Personality   `json:"personality"`
	History     []ChatMessage `json:"history"`
	UserProfile *UserProfile  `json:"userProfile,omitempty"`
}

func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return &core.ValidationError{Field: "message", Reason: "required"}
	}
	switch r.Personality {
	case PersonalityPlayful, PersonalityProfessional:
	default:
		return &core.ValidationError{Field: "personality", Reason: "must be playful or professional"}
	}
	for _, m := range r.History {
		if m.Role != "user" && m.Role != "assistant" {
			return &core.ValidationError{Field: "history", Reason: "unknown role " + m.Role}
		}
	}
	return nil
}

// ReplyResponse is shared by coaching and chatbot.
type ReplyResponse struct {
	Reply    string `json:"reply"`
	Fallback bool   `json:"fallback,omitempty"`
}

type RoadmapRequest struct {
	Goals       string       `json:"goals"`
	Struggles   string       `json:"struggles"`
	DailyTime   float64      `json:"dailyTime"`
	UserProfile *UserProfile `json:"userProfile,omitempty"`
}

func (r RoadmapRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Goals) == "":
		return &core.ValidationError{Field: "goals", Reason: "required"}
	case r.DailyTime < 0:
		return &core.ValidationError{Field: "dailyTime", Reason: "must be non-negative"}
	}
	return nil
}

type RoadmapResponse struct {
	Roadmap  core.Roadmap `json:"roadmap"`
	Fallback bool         `json:"fallback,omitempty"`
}

type MoodRequest struct {
	JournalEntry string `json:"journalEntry"`
}

func (r MoodRequest) Validate() error {
	if strings.TrimSpace(r.JournalEntry) == "" {
		return &core.ValidationError{Field: "journalEntry", Reason: "required"}
	}
	return nil
}

type MoodResponse struct {
	Mood     string `json:"mood"`
	Fallback bool   `json:"fallback,omitempty"`
}

type VerifyRequest struct {
	ImageURL         string `json:"imageUrl"`
	QuestID          string `json:"questId"`
	QuestTitle       string `json:"questTitle"`
	QuestDescription string `json:"questDescription"`
}

func (r VerifyRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.ImageURL) == "":
		return &core.ValidationError{Field: "imageUrl", Reason: "required"}
	case strings.TrimSpace(r.QuestID) == "":
		return &core.ValidationError{Field: "questId", Reason: "required"}
	}
	return nil
}

type VerifyResponse struct {
	Verified bool `json:"verified"`
	Fallback bool `json:"fallback,omitempty"`
}
