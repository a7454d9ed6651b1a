package kv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/H4MSA/solivrah/internal/core"
)

func TestAdapterRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "device.yaml")
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a := NewAdapter(f)

	if rec, err := a.Load(ctx, core.Guest()); err != nil || rec != nil {
		t.Fatalf("expected empty store, got %+v, %v", rec, err)
	}

	want := core.ProgressRecord{XP: 75, Streak: 2, Theme: core.ThemeWildcard, CompletedQuestCount: 3}
	if err := a.Save(ctx, core.Guest(), want); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A second handle on the same file sees the same record.
	f2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := NewAdapter(f2).Load(ctx, core.Guest())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || *got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	data, _ := os.ReadFile(path)
	for _, key := range []string{KeyXP, KeyStreak, KeyTheme, KeyCompletedQuests} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("expected key %s in state file", key)
		}
	}
}

func TestAdapterRejectsCorruptValues(t *testing.T) {
	f, err := Open(filepath.Join(t.TempDir(), "device.yaml"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = f.Set(KeyXP, "lots")
	if _, err := NewAdapter(f).Load(context.Background(), core.Guest()); err == nil {
		t.Fatalf("expected parse error for non-numeric xp")
	}
	_ = f.Set(KeyXP, "10")
	_ = f.Set(KeyTheme, "Chaos")
	if _, err := NewAdapter(f).Load(context.Background(), core.Guest()); err == nil {
		t.Fatalf("expected error for unknown theme")
	}
}

func TestAdapterClear(t *testing.T) {
	ctx := context.Background()
	f, _ := Open(filepath.Join(t.TempDir(), "device.yaml"))
	a := NewAdapter(f)
	_ = f.Set("unrelated", "keep")
	_ = a.Save(ctx, core.Guest(), core.ProgressRecord{XP: 5, Theme: core.ThemeFocus})
	if err := a.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if rec, _ := a.Load(ctx, core.Guest()); rec != nil {
		t.Fatalf("expected no record after clear, got %+v", rec)
	}
	if v, ok := f.Get("unrelated"); !ok || v != "keep" {
		t.Fatalf("clear removed unrelated key")
	}
}

func TestQuestStoreUpsertsInDayOrder(t *testing.T) {
	ctx := context.Background()
	f, _ := Open(filepath.Join(t.TempDir(), "device.yaml"))
	qs := NewQuestStore(f)

	base := core.Quest{Theme: core.ThemeFocus, XPReward: 50, Difficulty: core.DifficultyEasy,
		VerificationStatus: core.VerificationNotRequired}
	q2, q1 := base, base
	q2.ID, q2.Day = "d2", 2
	q1.ID, q1.Day = "d1", 1
	for _, q := range []core.Quest{q2, q1} {
		if err := qs.SaveQuest(ctx, q); err != nil {
			t.Fatalf("save %s: %v", q.ID, err)
		}
	}
	q1.Completed = true
	if err := qs.SaveQuest(ctx, q1); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := NewQuestStore(f).ListQuests(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "d1" || !got[0].Completed || got[1].ID != "d2" {
		t.Fatalf("unexpected quests %+v", got)
	}

	if err := qs.SaveQuest(ctx, core.Quest{ID: "bad"}); !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOutboxSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.yaml")
	f, _ := Open(path)
	ob := NewOutbox(f)
	q := core.Quest{ID: "d1", UserID: "u1", Day: 1, Completed: true}
	if err := ob.PutPending(q); err != nil {
		t.Fatalf("put: %v", err)
	}
	q.Title = "updated"
	ob.PutPending(q)
	ob.PutPending(core.Quest{ID: "d1", UserID: "u2", Day: 1})

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ob = NewOutbox(reopened)
	got, err := ob.PendingQuests("u1")
	if err != nil || len(got) != 1 || got[0].Title != "updated" || !got[0].PendingSync {
		t.Fatalf("unexpected pending for u1: %+v, %v", got, err)
	}
	if err := ob.RemovePending("u1", "d1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got, _ := ob.PendingQuests("u1"); len(got) != 0 {
		t.Fatalf("expected u1 drained, got %+v", got)
	}
	if got, _ := ob.PendingQuests("u2"); len(got) != 1 {
		t.Fatalf("expected u2 entry kept, got %+v", got)
	}
}
