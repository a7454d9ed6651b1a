package quest

import (
	"fmt"
	"strings"

	"github.com/H4MSA/solivrah/internal/core"
)

// photoEvery marks every n-th day as a photo-verified quest.
const photoEvery = 7

// FromRoadmap turns roadmap days into quests with ids "d<day>". Difficulty
// and xp grow with the day: 1-10 Easy/50, 11-20 Medium/100, later Hard/150.
func FromRoadmap(userID string, rm core.Roadmap, theme core.Theme) []core.Quest {
	if !theme.IsValid() {
		if t, err := core.ParseTheme(rm.Theme); err == nil {
			theme = t
		} else {
			theme = core.DefaultTheme
		}
	}
	out := make([]core.Quest, 0, len(rm.Days))
	for _, d := range rm.Days {
		if d.Day <= 0 {
			continue
		}
		diff, xp := difficultyForDay(d.Day)
		q := core.Quest{
			ID:                 fmt.Sprintf("d%d", d.Day),
			UserID:             userID,
			Day:                d.Day,
			Title:              d.Title,
			Description:        describe(d),
			Theme:              theme,
			XPReward:           xp,
			Difficulty:         diff,
			RequiresPhoto:      d.Day%photoEvery == 0,
			VerificationStatus: core.VerificationNotRequired,
		}
		if q.RequiresPhoto {
			q.VerificationStatus = core.VerificationPending
		}
		out = append(out, q)
	}
	sortQuests(out)
	return out
}

func difficultyForDay(day int) (core.Difficulty, int) {
	switch {
	case day <= 10:
		return core.DifficultyEasy, 50
	case day <= 20:
		return core.DifficultyMedium, 100
	default:
		return core.DifficultyHard, 150
	}
}

func describe(d core.RoadmapDay) string {
	if len(d.Tasks) == 0 {
		return d.Description
	}
	var sb strings.Builder
	sb.WriteString(d.Description)
	for _, t := range d.Tasks {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(t)
	}
	return sb.String()
}
