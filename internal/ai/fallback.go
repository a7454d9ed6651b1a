package ai

import (
	"fmt"

	"github.com/H4MSA/solivrah/internal/core"
)

const (
	fallbackReply   = "I'm having trouble connecting right now. Please try again in a moment."
	fallbackMood    = "neutral"
	roadmapDays     = 30
	fallbackGoalMsg = "Build a consistent daily habit"
)

func fallbackAffirmation(req AffirmationRequest) AffirmationResponse {
	theme := req.Theme
	if !theme.IsValid() {
		theme = core.DefaultTheme
	}
	text := fmt.Sprintf("Every small step you take today builds your %s. Keep going.", theme)
	if req.Username != "" {
		text = fmt.Sprintf("%s, every small step you take today builds your %s. Keep going.", req.Username, theme)
	}
	return AffirmationResponse{Affirmation: text, Fallback: true}
}

func fallbackRoadmap(req RoadmapRequest) RoadmapResponse {
	theme := core.DefaultTheme
	if req.UserProfile != nil && req.UserProfile.Theme.IsValid() {
		theme = req.UserProfile.Theme
	}
	goal := req.Goals
	if goal == "" {
		goal = fallbackGoalMsg
	}
	days := make([]core.RoadmapDay, 0, roadmapDays)
	for d := 1; d <= roadmapDays; d++ {
		days = append(days, core.RoadmapDay{
			Day:         d,
			Title:       fmt.Sprintf("Day %d", d),
			Description: "Take one focused step toward your goal.",
			Tasks: []string{
				"Review your goal for five minutes",
				"Complete one small action toward it",
				"Write down what went well",
			},
		})
	}
	return RoadmapResponse{
		Roadmap:  core.Roadmap{Theme: string(theme), Goal: goal, Days: days},
		Fallback: true,
	}
}

func fallbackVerify(failOpen bool) VerifyResponse {
	return VerifyResponse{Verified: failOpen, Fallback: true}
}
