// Package progress holds the in-memory authoritative progress record for the
// active identity. Every successful mutation is delivered synchronously to
// subscribed observers, in subscription order, before the mutating call
// returns.
package progress

import (
	"log"
	"sync"
	"time"

	"github.com/H4MSA/solivrah/internal/core"
)

// Observer receives a copy of the record after each successful mutation.
type Observer func(core.ProgressRecord)

type Store struct {
	mu        sync.Mutex
	notifyMu  sync.Mutex
	rec       core.ProgressRecord
	observers map[int]Observer
	order     []int
	nextID    int
	nowFunc   func() time.Time
}

func New(initial core.ProgressRecord) *Store {
	if !initial.Theme.IsValid() {
		initial.Theme = core.DefaultTheme
	}
	return &Store{
		rec:       initial,
		observers: make(map[int]Observer),
		nowFunc:   func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

func (s *Store) Snapshot() core.ProgressRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// Restore replaces the record without notifying observers. It is used when
// the active identity changes and the record is loaded from persistence.
func (s *Store) Restore(rec core.ProgressRecord) {
	if !rec.Theme.IsValid() {
		rec.Theme = core.DefaultTheme
	}
	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()
}

func (s *Store) AddXP(amount int) error {
	if amount < 0 {
		log.Printf("progress: rejected addXP(%d)", amount)
		return &core.ValidationError{Field: "xp", Reason: "amount must be non-negative"}
	}
	s.mutate(func(r *core.ProgressRecord) { r.XP += amount })
	return nil
}

func (s *Store) IncrementStreak() {
	s.mutate(func(r *core.ProgressRecord) { r.Streak++ })
}

func (s *Store) ResetStreak() {
	s.mutate(func(r *core.ProgressRecord) { r.Streak = 0 })
}

func (s *Store) RecordQuestCompleted() {
	s.mutate(func(r *core.ProgressRecord) { r.CompletedQuestCount++ })
}

func (s *Store) SetTheme(theme core.Theme) error {
	if !theme.IsValid() {
		log.Printf("progress: rejected theme %q", theme)
		return &core.ValidationError{Field: "theme", Reason: "unknown theme " + string(theme)}
	}
	s.mutate(func(r *core.ProgressRecord) { r.Theme = theme })
	return nil
}

// ResetProgress zeroes xp, streak and the completed quest count in one step.
// It is the only operation that lowers xp and cannot be undone.
func (s *Store) ResetProgress() {
	s.mutate(func(r *core.ProgressRecord) {
		r.XP = 0
		r.Streak = 0
		r.CompletedQuestCount = 0
	})
}

// mutate applies fn and notifies observers. notifyMu serialises mutation and
// delivery together so observers see snapshots in mutation order.
func (s *Store) mutate(fn func(*core.ProgressRecord)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	fn(&s.rec)
	s.rec.UpdatedAt = s.nowFunc()
	snap := s.rec
	observers := make([]Observer, 0, len(s.order))
	for _, id := range s.order {
		observers = append(observers, s.observers[id])
	}
	s.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}
