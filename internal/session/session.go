// Package session ties the progress store to persistence for the active
// identity and handles guest/authenticated transitions. Guest progress is
// merged into the account on first login instead of being dropped.
package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/progress"
	"github.com/H4MSA/solivrah/internal/quest"
	"github.com/H4MSA/solivrah/internal/storage"
	"github.com/H4MSA/solivrah/internal/storage/kv"
	syncer "github.com/H4MSA/solivrah/internal/sync"
)

// KeyIdentity remembers the last active identity in the device file.
const KeyIdentity = "session_identity"

// GuestAdapter is the device-local progress adapter; Clear removes the
// guest record once it has been merged.
type GuestAdapter interface {
	storage.ProgressAdapter
	Clear() error
}

type Config struct {
	Store   *progress.Store
	Guest   GuestAdapter
	Durable storage.ProgressAdapter
	// Device remembers the last identity; optional.
	Device *kv.File
	// Quests is reloaded on every identity switch; optional.
	Quests *quest.Manager
	Sync   syncer.Options
}

type Session struct {
	store   *progress.Store
	guest   GuestAdapter
	durable storage.ProgressAdapter
	router  *storage.Router
	sched   *syncer.Scheduler
	device  *kv.File
	quests  *quest.Manager
	detach  func()

	mu       sync.Mutex
	identity core.Identity
}

func New(cfg Config) (*Session, error) {
	if cfg.Store == nil || cfg.Guest == nil {
		return nil, fmt.Errorf("session requires a store and a guest adapter")
	}
	s := &Session{
		store:   cfg.Store,
		guest:   cfg.Guest,
		durable: cfg.Durable,
		router:  storage.NewRouter(cfg.Guest, cfg.Durable),
		device:  cfg.Device,
		quests:  cfg.Quests,
	}
	s.sched = syncer.New(s.router, s.Identity, cfg.Sync)
	s.detach = s.sched.Attach(s.store)
	return s, nil
}

func (s *Session) Identity() core.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) Store() *progress.Store { return s.store }
func (s *Session) Scheduler() *syncer.Scheduler { return s.sched }
func (s *Session) Router() *storage.Router { return s.router }
func (s *Session) Quests() *quest.Manager { return s.quests }

// Start activates id. When the device was last used by someone else (or by
// a guest) and id is authenticated, guest progress is merged first.
func (s *Session) Start(ctx context.Context, id core.Identity) error {
	if !id.IsGuest() && s.lastIdentity() != id.Key() {
		return s.merge(ctx, id)
	}
	s.activate(ctx, id, storage.LoadOrDefault(ctx, s.router, id))
	return nil
}

// Login flushes pending guest writes and merges guest progress into the
// account. On failure the session stays on the previous identity and the
// guest record is kept.
func (s *Session) Login(ctx context.Context, userID string) error {
	id := core.Authenticated(userID)
	if id.IsGuest() {
		return &core.ValidationError{Field: "user_id", Reason: "required"}
	}
	if err := s.sched.Flush(ctx); err != nil {
		log.Printf("session: flush before login: %v", err)
	}
	return s.merge(ctx, id)
}

// Logout flushes pending account writes and switches to the device guest
// record.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.sched.Flush(ctx); err != nil {
		log.Printf("session: flush before logout: %v", err)
	}
	id := core.Guest()
	s.activate(ctx, id, storage.LoadOrDefault(ctx, s.guest, id))
	return nil
}

// Close flushes and stops background persistence.
func (s *Session) Close(ctx context.Context) error {
	if s.detach != nil {
		s.detach()
	}
	return s.sched.Close(ctx)
}

func (s *Session) merge(ctx context.Context, id core.Identity) error {
	if s.durable == nil {
		return fmt.Errorf("login %s: no durable adapter configured", id.UserID)
	}
	guestRec, err := s.guest.Load(ctx, core.Guest())
	if err != nil {
		log.Printf("session: unreadable guest record, not merging: %v", err)
		guestRec = nil
	}
	accountRec, err := s.durable.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("login %s: load account: %w", id.UserID, err)
	}
	if guestRec == nil {
		rec := core.DefaultProgress()
		if accountRec != nil {
			rec = *accountRec
		}
		s.activate(ctx, id, rec)
		return nil
	}

	merged := Merge(*guestRec, accountRec)
	if err := s.durable.Save(ctx, id, merged); err != nil {
		return fmt.Errorf("login %s: save merged progress: %w", id.UserID, err)
	}
	if err := s.guest.Clear(); err != nil {
		log.Printf("session: clear merged guest record: %v", err)
	}
	if s.quests != nil {
		if err := s.quests.AdoptGuest(ctx, id); err != nil {
			log.Printf("session: %v", err)
		}
	}
	log.Printf("session: merged guest progress into %s (xp %d, streak %d)", id, merged.XP, merged.Streak)
	s.activate(ctx, id, merged)
	return nil
}

func (s *Session) activate(ctx context.Context, id core.Identity, rec core.ProgressRecord) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
	s.store.Restore(rec)
	if s.device != nil {
		if err := s.device.Set(KeyIdentity, id.Key()); err != nil {
			log.Printf("session: remember identity: %v", err)
		}
	}
	if s.quests != nil {
		if err := s.quests.Load(ctx, id); err != nil {
			log.Printf("session: %v", err)
		}
	}
}

func (s *Session) lastIdentity() string {
	if s.device == nil {
		return ""
	}
	v, _ := s.device.Get(KeyIdentity)
	return strings.TrimSpace(v)
}

// Remembered returns the identity last activated on this device, or a
// guest when none was recorded.
func (s *Session) Remembered() core.Identity {
	return parseIdentityKey(s.lastIdentity())
}

func parseIdentityKey(key string) core.Identity {
	if userID, ok := strings.CutPrefix(key, "user:"); ok {
		return core.Authenticated(userID)
	}
	return core.Guest()
}

// Merge folds a guest record into an account record: xp and completed
// counts add up, the longer streak wins, and the account theme is kept
// unless it is still the default and the guest picked another. Guest quests
// move to the account only when it has none (see quest.Manager.AdoptGuest).
func Merge(guest core.ProgressRecord, account *core.ProgressRecord) core.ProgressRecord {
	if account == nil {
		out := guest
		if !out.Theme.IsValid() {
			out.Theme = core.DefaultTheme
		}
		return out
	}
	out := *account
	out.XP += guest.XP
	out.CompletedQuestCount += guest.CompletedQuestCount
	out.Streak = max(out.Streak, guest.Streak)
	if out.Theme == core.DefaultTheme && guest.Theme.IsValid() && guest.Theme != core.DefaultTheme {
		out.Theme = guest.Theme
	}
	if guest.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = guest.UpdatedAt
	}
	return out
}
