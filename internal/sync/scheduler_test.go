package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/progress"
	"github.com/H4MSA/solivrah/internal/storage"
)

// flakyAdapter fails the first n saves and records every applied write.
type flakyAdapter struct {
	mu      sync.Mutex
	failN   int
	applied []core.ProgressRecord
}

func (f *flakyAdapter) Load(context.Context, core.Identity) (*core.ProgressRecord, error) {
	return nil, nil
}

func (f *flakyAdapter) Save(_ context.Context, _ core.Identity, rec core.ProgressRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("connection reset")
	}
	f.applied = append(f.applied, rec)
	return nil
}

func (f *flakyAdapter) writes() []core.ProgressRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.ProgressRecord(nil), f.applied...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBurstCoalescesIntoFinalWrite(t *testing.T) {
	mem := storage.NewInMemory()
	id := core.Authenticated("u1")
	sched := New(mem, func() core.Identity { return id }, Options{Debounce: time.Hour})
	defer sched.Close(context.Background())

	store := progress.New(core.ProgressRecord{XP: 100, Streak: 4, Theme: core.ThemeFocus})
	sched.Attach(store)

	store.AddXP(10)
	store.IncrementStreak()
	store.AddXP(5)

	if err := sched.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	rec, err := mem.Load(context.Background(), id)
	if err != nil || rec == nil {
		t.Fatalf("load: %+v, %v", rec, err)
	}
	if rec.XP != 115 || rec.Streak != 5 {
		t.Fatalf("expected xp=115 streak=5, got %+v", rec)
	}
	if mem.Saves() != 1 {
		t.Fatalf("expected 1 coalesced write, got %d", mem.Saves())
	}
}

func TestDebouncedWriteFiresWithoutFlush(t *testing.T) {
	fa := &flakyAdapter{}
	sched := New(fa, nil, Options{Debounce: 10 * time.Millisecond})
	defer sched.Close(context.Background())

	for i := 1; i <= 5; i++ {
		if err := sched.Enqueue(core.Guest(), core.ProgressRecord{XP: i * 10, Theme: core.ThemeDiscipline}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	waitFor(t, func() bool { return len(sched.Pending()) == 0 })

	writes := fa.writes()
	if len(writes) == 0 {
		t.Fatal("expected at least one write")
	}
	if last := writes[len(writes)-1]; last.XP != 50 {
		t.Fatalf("expected last write xp=50, got %d", last.XP)
	}
}

func TestFailedSaveRetriedWithBackoff(t *testing.T) {
	fa := &flakyAdapter{failN: 2}
	sched := New(fa, nil, Options{RetryBase: time.Millisecond, RetryMax: 4 * time.Millisecond})
	defer sched.Close(context.Background())

	if err := sched.Enqueue(core.Authenticated("u1"), core.ProgressRecord{XP: 50, Streak: 1, Theme: core.ThemeFocus}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, func() bool { return sched.Stats().Writes == 1 })

	st := sched.Stats()
	if st.Failures != 2 {
		t.Fatalf("expected 2 failures, got %d", st.Failures)
	}
	if writes := fa.writes(); len(writes) != 1 || writes[0].XP != 50 {
		t.Fatalf("unexpected writes: %+v", writes)
	}
}

func TestFlushReportsSaveError(t *testing.T) {
	fa := &flakyAdapter{failN: 1}
	sched := New(fa, nil, Options{Debounce: time.Hour, RetryBase: time.Hour, RetryMax: time.Hour})
	defer sched.Close(context.Background())

	sched.Enqueue(core.Guest(), core.ProgressRecord{XP: 1, Theme: core.ThemeDiscipline})
	if err := sched.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if p := sched.Pending(); len(p) != 1 || p[0] != "guest" {
		t.Fatalf("expected guest still pending, got %v", p)
	}
	if err := sched.Flush(context.Background()); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if len(sched.Pending()) != 0 {
		t.Fatalf("expected nothing pending, got %v", sched.Pending())
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	mem := storage.NewInMemory()
	sched := New(mem, nil, Options{Debounce: time.Hour})
	defer sched.Close(context.Background())

	sched.Enqueue(core.Guest(), core.ProgressRecord{XP: 5, Theme: core.ThemeDiscipline})
	sched.Enqueue(core.Authenticated("u1"), core.ProgressRecord{XP: 9, Theme: core.ThemeWildcard})
	if got := sched.Pending(); len(got) != 2 {
		t.Fatalf("expected 2 pending queues, got %v", got)
	}
	if err := sched.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	guest, _ := mem.Load(context.Background(), core.Guest())
	user, _ := mem.Load(context.Background(), core.Authenticated("u1"))
	if guest == nil || guest.XP != 5 || user == nil || user.XP != 9 {
		t.Fatalf("unexpected records guest=%+v user=%+v", guest, user)
	}
}

func TestCloseFlushesAndRejectsNewWork(t *testing.T) {
	mem := storage.NewInMemory()
	sched := New(mem, nil, Options{Debounce: time.Hour})

	sched.Enqueue(core.Authenticated("u2"), core.ProgressRecord{XP: 30, Theme: core.ThemeResilience})
	if err := sched.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec, _ := mem.Load(context.Background(), core.Authenticated("u2"))
	if rec == nil || rec.XP != 30 {
		t.Fatalf("expected pending snapshot written on close, got %+v", rec)
	}
	if err := sched.Enqueue(core.Guest(), core.DefaultProgress()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
