package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/H4MSA/solivrah/internal/core"
)

func testQuest(userID, id string, day int) core.Quest {
	return core.Quest{
		ID:                 id,
		UserID:             userID,
		Day:                day,
		Title:              "Morning walk",
		Description:        "Walk for 20 minutes",
		Theme:              core.ThemeDiscipline,
		XPReward:           50,
		Difficulty:         core.DifficultyEasy,
		VerificationStatus: core.VerificationNotRequired,
	}
}

func TestQuestsListedByDay(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for _, q := range []core.Quest{testQuest("u1", "d3", 3), testQuest("u1", "d1", 1), testQuest("u2", "d2", 2)} {
		if err := st.SaveQuest(ctx, q); err != nil {
			t.Fatalf("save quest %s: %v", q.ID, err)
		}
	}
	quests, err := st.ListQuests(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(quests) != 2 || quests[0].ID != "d1" || quests[1].ID != "d3" {
		t.Fatalf("unexpected quests: %+v", quests)
	}
}

func TestSaveQuestUpdatesCompletion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	q := testQuest("u1", "d7", 7)
	q.RequiresPhoto = true
	q.VerificationStatus = core.VerificationPending
	if err := st.SaveQuest(ctx, q); err != nil {
		t.Fatalf("save: %v", err)
	}

	now := time.Now().UTC()
	q.Completed = true
	q.CompletedAt = &now
	q.VerificationStatus = core.VerificationVerified
	if err := st.SaveQuest(ctx, q); err != nil {
		t.Fatalf("update: %v", err)
	}

	quests, err := st.ListQuests(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(quests) != 1 {
		t.Fatalf("expected 1 quest, got %d", len(quests))
	}
	got := quests[0]
	if !got.Completed || !got.RequiresPhoto || got.VerificationStatus != core.VerificationVerified {
		t.Fatalf("unexpected quest: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(now) {
		t.Fatalf("completed_at mismatch: %v", got.CompletedAt)
	}
}

func TestSaveQuestRequiresUser(t *testing.T) {
	st := newTestStore(t)
	if err := st.SaveQuest(context.Background(), testQuest("", "d1", 1)); err == nil {
		t.Fatal("expected error for quest without user")
	}
}

func TestLatestRoadmap(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.LatestRoadmap(ctx, "u1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first := core.StoredRoadmap{UserID: "u1", Roadmap: core.Roadmap{Theme: "Focus", Goal: "read more"}}
	second := core.StoredRoadmap{UserID: "u1", Roadmap: core.Roadmap{
		Theme: "Discipline",
		Goal:  "wake early",
		Days:  []core.RoadmapDay{{Day: 1, Title: "Start", Tasks: []string{"a", "b", "c"}}},
	}}
	if err := st.SaveRoadmap(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := st.SaveRoadmap(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := st.LatestRoadmap(ctx, "u1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Roadmap.Goal != "wake early" || len(got.Roadmap.Days) != 1 || len(got.Roadmap.Days[0].Tasks) != 3 {
		t.Fatalf("unexpected roadmap: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be stamped")
	}
}
