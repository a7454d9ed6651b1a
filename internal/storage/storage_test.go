package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/H4MSA/solivrah/internal/core"
)

type failingAdapter struct{}

func (failingAdapter) Load(context.Context, core.Identity) (*core.ProgressRecord, error) {
	return nil, errors.New("connection refused")
}

func (failingAdapter) Save(context.Context, core.Identity, core.ProgressRecord) error {
	return errors.New("connection refused")
}

func TestInMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewInMemory()
	id := core.Authenticated("u1")
	rec := core.ProgressRecord{XP: 120, Streak: 3, Theme: core.ThemeFocus, CompletedQuestCount: 2}
	if err := st.Save(ctx, id, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := st.Load(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || *got != rec {
		t.Fatalf("expected %+v, got %+v", rec, got)
	}
	missing, err := st.Load(ctx, core.Authenticated("nobody"))
	if err != nil || missing != nil {
		t.Fatalf("expected nil record for unknown identity, got %+v, %v", missing, err)
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	rec := LoadOrDefault(context.Background(), failingAdapter{}, core.Authenticated("u1"))
	if rec != core.DefaultProgress() {
		t.Fatalf("expected default record, got %+v", rec)
	}
	rec = LoadOrDefault(context.Background(), NewInMemory(), core.Guest())
	if rec != core.DefaultProgress() {
		t.Fatalf("expected default record for empty store, got %+v", rec)
	}
}

func TestRouterDispatchesByIdentity(t *testing.T) {
	ctx := context.Background()
	guest, durable := NewInMemory(), NewInMemory()
	r := NewRouter(guest, durable)

	_ = r.Save(ctx, core.Guest(), core.ProgressRecord{XP: 1, Theme: core.DefaultTheme})
	_ = r.Save(ctx, core.Authenticated("u1"), core.ProgressRecord{XP: 2, Theme: core.DefaultTheme})

	if guest.Saves() != 1 || durable.Saves() != 1 {
		t.Fatalf("expected one save per adapter, got guest=%d durable=%d", guest.Saves(), durable.Saves())
	}
	got, _ := r.Load(ctx, core.Authenticated("u1"))
	if got == nil || got.XP != 2 {
		t.Fatalf("expected durable record, got %+v", got)
	}

	if err := NewRouter(guest, nil).Save(ctx, core.Authenticated("u1"), core.DefaultProgress()); err == nil {
		t.Fatalf("expected error without durable adapter")
	}
}

func TestInMemoryQuestsSortedByDay(t *testing.T) {
	ctx := context.Background()
	st := NewInMemory()
	for _, q := range []core.Quest{{ID: "d3", UserID: "u1", Day: 3}, {ID: "d1", UserID: "u1", Day: 1}, {ID: "d2", UserID: "u1", Day: 2}} {
		_ = st.SaveQuest(ctx, q)
	}
	qs, _ := st.ListQuests(ctx, "u1")
	if len(qs) != 3 || qs[0].ID != "d1" || qs[2].ID != "d3" {
		t.Fatalf("unexpected order: %+v", qs)
	}
	if _, err := st.LatestRoadmap(ctx, "u1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
