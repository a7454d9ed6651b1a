package core

import (
	"strings"
	"time"
)

// Theme is the closed set of progress themes.
type Theme string

const (
	ThemeDiscipline Theme = "Discipline"
	ThemeFocus      Theme = "Focus"
	ThemeResilience Theme = "Resilience"
	ThemeWildcard   Theme = "Wildcard"
)

// DefaultTheme is used when no theme has been chosen.
const DefaultTheme = ThemeDiscipline

var Themes = []Theme{ThemeDiscipline, ThemeFocus, ThemeResilience, ThemeWildcard}

func (t Theme) IsValid() bool {
	switch t {
	case ThemeDiscipline, ThemeFocus, ThemeResilience, ThemeWildcard:
		return true
	default:
		return false
	}
}

// ParseTheme accepts any casing of a known theme.
func ParseTheme(input string) (Theme, error) {
	s := strings.TrimSpace(input)
	for _, t := range Themes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", &ValidationError{Field: "theme", Reason: "unknown theme " + strings.TrimSpace(input)}
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

func ParseDifficulty(input string) (Difficulty, error) {
	s := strings.TrimSpace(input)
	for _, d := range []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard} {
		if strings.EqualFold(s, string(d)) {
			return d, nil
		}
	}
	return "", &ValidationError{Field: "difficulty", Reason: "unknown difficulty " + s}
}

type VerificationStatus string

const (
	VerificationNotRequired VerificationStatus = "not_required"
	VerificationPending     VerificationStatus = "pending"
	VerificationVerified    VerificationStatus = "verified"
	VerificationInvalid     VerificationStatus = "invalid"
)

func (v VerificationStatus) IsValid() bool {
	switch v {
	case VerificationNotRequired, VerificationPending, VerificationVerified, VerificationInvalid:
		return true
	default:
		return false
	}
}

func ParseVerificationStatus(input string) (VerificationStatus, error) {
	v := VerificationStatus(strings.TrimSpace(strings.ToLower(input)))
	if !v.IsValid() {
		return "", &ValidationError{Field: "verification_status", Reason: "unknown status " + input}
	}
	return v, nil
}

// Quest is one day's task in a user's journey. Partitions (current,
// upcoming, completed) are derived from Completed and never stored.
type Quest struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id,omitempty"`
	Day                int                `json:"day"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	Theme              Theme              `json:"theme"`
	XPReward           int                `json:"xp"`
	Difficulty         Difficulty         `json:"difficulty"`
	RequiresPhoto      bool               `json:"requires_photo"`
	Completed          bool               `json:"completed"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	PendingSync        bool               `json:"pending_sync,omitempty"`
}

func (q Quest) Validate() error {
	switch {
	case strings.TrimSpace(q.ID) == "":
		return &ValidationError{Field: "id", Reason: "required"}
	case q.Day <= 0:
		return &ValidationError{Field: "day", Reason: "must be positive"}
	case q.XPReward < 0:
		return &ValidationError{Field: "xp", Reason: "must be non-negative"}
	case !q.Difficulty.IsValid():
		return &ValidationError{Field: "difficulty", Reason: "unknown difficulty " + string(q.Difficulty)}
	case !q.Theme.IsValid():
		return &ValidationError{Field: "theme", Reason: "unknown theme " + string(q.Theme)}
	case !q.VerificationStatus.IsValid():
		return &ValidationError{Field: "verification_status", Reason: "unknown status " + string(q.VerificationStatus)}
	}
	return nil
}

// Roadmap is the multi-day plan produced by the roadmap operation.
type Roadmap struct {
	Theme string       `json:"theme"`
	Goal  string       `json:"goal"`
	Days  []RoadmapDay `json:"days"`
}

type RoadmapDay struct {
	Day         int      `json:"day"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tasks       []string `json:"tasks"`
	Completed   bool     `json:"completed"`
}

// StoredRoadmap is a roadmap persisted for a user.
type StoredRoadmap struct {
	UserID    string    `json:"user_id"`
	Roadmap   Roadmap   `json:"roadmap"`
	CreatedAt time.Time `json:"created_at"`
}
