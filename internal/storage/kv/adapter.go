package kv

import (
	"context"
	"fmt"
	"strconv"

	"github.com/H4MSA/solivrah/internal/core"
)

// Fixed device keys. They are not parameterised by identity: every guest
// session on a device shares one record.
const (
	KeyXP              = "anonymous_xp"
	KeyStreak          = "anonymous_streak"
	KeyTheme           = "anonymous_theme"
	KeyCompletedQuests = "anonymous_completed_quests"
)

// Adapter is the ephemeral-identity progress adapter.
type Adapter struct {
	file *File
}

func NewAdapter(f *File) *Adapter {
	return &Adapter{file: f}
}

func (a *Adapter) Load(_ context.Context, _ core.Identity) (*core.ProgressRecord, error) {
	xpStr, okXP := a.file.Get(KeyXP)
	streakStr, okStreak := a.file.Get(KeyStreak)
	themeStr, okTheme := a.file.Get(KeyTheme)
	countStr, okCount := a.file.Get(KeyCompletedQuests)
	if !okXP && !okStreak && !okTheme && !okCount {
		return nil, nil
	}

	rec := core.DefaultProgress()
	var err error
	if okXP {
		if rec.XP, err = parseCount(KeyXP, xpStr); err != nil {
			return nil, err
		}
	}
	if okStreak {
		if rec.Streak, err = parseCount(KeyStreak, streakStr); err != nil {
			return nil, err
		}
	}
	if okCount {
		if rec.CompletedQuestCount, err = parseCount(KeyCompletedQuests, countStr); err != nil {
			return nil, err
		}
	}
	if okTheme {
		if rec.Theme, err = core.ParseTheme(themeStr); err != nil {
			return nil, fmt.Errorf("parse %s: %w", KeyTheme, err)
		}
	}
	return &rec, nil
}

func (a *Adapter) Save(_ context.Context, _ core.Identity, rec core.ProgressRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return a.file.SetMany(map[string]string{
		KeyXP:              strconv.Itoa(rec.XP),
		KeyStreak:          strconv.Itoa(rec.Streak),
		KeyTheme:           string(rec.Theme),
		KeyCompletedQuests: strconv.Itoa(rec.CompletedQuestCount),
	})
}

// Clear removes the guest record from the device.
func (a *Adapter) Clear() error {
	return a.file.Delete(KeyXP, KeyStreak, KeyTheme, KeyCompletedQuests)
}

func parseCount(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("parse %s: negative value %d", key, n)
	}
	return n, nil
}
