// Package quest owns a user's quest set: derived partitions, one-way
// completion with optional photo verification, and the pending-sync flag for
// completions that could not be persisted yet.
package quest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/H4MSA/solivrah/internal/ai"
	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/progress"
	"github.com/H4MSA/solivrah/internal/storage"
)

type Repository = storage.QuestRepository

// Verifier checks quest photos. *ai.Client implements it.
type Verifier interface {
	VerifyPhoto(ctx context.Context, req ai.VerifyRequest) (ai.VerifyResponse, error)
}

// Outbox keeps quest writes that were not confirmed, across restarts.
// *kv.Outbox implements it.
type Outbox interface {
	PendingQuests(userID string) ([]core.Quest, error)
	PutPending(q core.Quest) error
	RemovePending(userID, questID string) error
}

// Replacer is implemented by repositories that refuse to un-complete a quest
// through SaveQuest. ReplaceQuest writes q even over a completed quest.
type Replacer interface {
	ReplaceQuest(ctx context.Context, q core.Quest) error
}

// Notifier receives quest events for push delivery.
type Notifier interface {
	Broadcast(userID string, event any)
}

type Partitions struct {
	Current   *core.Quest  `json:"current,omitempty"`
	Upcoming  []core.Quest `json:"upcoming"`
	Completed []core.Quest `json:"completed"`
}

// Completion reports the outcome of CompleteQuest. Applied is false when
// the quest was already completed and nothing changed.
type Completion struct {
	Quest        core.Quest         `json:"quest"`
	Applied      bool               `json:"applied"`
	XPAwarded    int                `json:"xp_awarded"`
	Verification *ai.VerifyResponse `json:"verification,omitempty"`
}

type Manager struct {
	progress *progress.Store
	guest    Repository
	durable  Repository
	verifier Verifier
	bus      Notifier
	outbox   Outbox
	nowFunc  func() time.Time

	mu         sync.Mutex
	identity   core.Identity
	quests     map[string]core.Quest
	completing map[string]bool
}

type Option func(*Manager)

func WithVerifier(v Verifier) Option { return func(m *Manager) { m.verifier = v } }
func WithNotifier(n Notifier) Option { return func(m *Manager) { m.bus = n } }

// WithOutbox persists pending-sync quests so they are retried after a
// restart instead of being lost with the process.
func WithOutbox(o Outbox) Option { return func(m *Manager) { m.outbox = o } }

// WithGuestRepository keeps guest quests in a device-local repository.
func WithGuestRepository(r Repository) Option { return func(m *Manager) { m.guest = r } }

func NewManager(store *progress.Store, durable Repository, opts ...Option) *Manager {
	m := &Manager{
		progress:   store,
		durable:    durable,
		nowFunc:    func() time.Time { return time.Now().UTC() },
		quests:     make(map[string]core.Quest),
		completing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) repo(id core.Identity) Repository {
	if id.IsGuest() {
		return m.guest
	}
	return m.durable
}

// Load replaces the quest set with the one stored for id, overlaid with
// the writes still waiting in the outbox. The manager switches to id even
// when the repository fails; the set is then only the pending writes.
func (m *Manager) Load(ctx context.Context, id core.Identity) error {
	var quests []core.Quest
	var loadErr error
	if r := m.repo(id); r != nil {
		quests, loadErr = r.ListQuests(ctx, id.UserID)
		if loadErr != nil {
			quests = nil
			loadErr = fmt.Errorf("load quests for %s: %w", id, loadErr)
		}
	}
	var pending []core.Quest
	if m.outbox != nil {
		var err error
		if pending, err = m.outbox.PendingQuests(id.UserID); err != nil {
			log.Printf("quest: read outbox: %v", err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = id
	m.quests = make(map[string]core.Quest, len(quests)+len(pending))
	m.completing = make(map[string]bool)
	for _, q := range quests {
		m.quests[q.ID] = q
	}
	for _, q := range pending {
		m.quests[q.ID] = q
	}
	return loadErr
}

// SetQuests validates and installs a new quest set, persisting each quest
// for the current identity.
func (m *Manager) SetQuests(ctx context.Context, quests []core.Quest) error {
	for _, q := range quests {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	id := m.identity
	m.quests = make(map[string]core.Quest, len(quests))
	for _, q := range quests {
		q.UserID = id.UserID
		m.quests[q.ID] = q
	}
	m.mu.Unlock()

	r := m.repo(id)
	if r == nil {
		return nil
	}
	var firstErr error
	for _, q := range m.Quests() {
		m.unqueue(id, q.ID)
		if err := put(ctx, r, q); err != nil {
			m.markPending(q.ID, true)
			q.PendingSync = true
			m.queue(id, q)
			log.Printf("quest: save %s for %s failed, marked pending: %v", q.ID, id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) Identity() core.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Quests returns the quest set sorted by day then id.
func (m *Manager) Quests() []core.Quest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked()
}

func (m *Manager) Get(id string) (core.Quest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quests[id]
	return q, ok
}

func (m *Manager) sortedLocked() []core.Quest {
	out := make([]core.Quest, 0, len(m.quests))
	for _, q := range m.quests {
		out = append(out, q)
	}
	sortQuests(out)
	return out
}

func sortQuests(qs []core.Quest) {
	sort.Slice(qs, func(i, j int) bool {
		if qs[i].Day != qs[j].Day {
			return qs[i].Day < qs[j].Day
		}
		return qs[i].ID < qs[j].ID
	})
}

// Partitions derives current, upcoming and completed from the quest set.
func (m *Manager) Partitions() Partitions {
	return Partition(m.Quests())
}

// Partition splits quests; current is the lowest-day incomplete quest.
func Partition(quests []core.Quest) Partitions {
	sorted := append([]core.Quest(nil), quests...)
	sortQuests(sorted)
	p := Partitions{Upcoming: []core.Quest{}, Completed: []core.Quest{}}
	for _, q := range sorted {
		switch {
		case q.Completed:
			p.Completed = append(p.Completed, q)
		case p.Current == nil:
			cur := q
			p.Current = &cur
		default:
			p.Upcoming = append(p.Upcoming, q)
		}
	}
	return p
}

// CompleteQuest marks a quest completed, awards its xp and one streak day,
// and persists it. Completing an already completed quest is a no-op. A
// failed write leaves the quest completed with PendingSync set.
func (m *Manager) CompleteQuest(ctx context.Context, questID, imageURL string) (Completion, error) {
	m.mu.Lock()
	q, ok := m.quests[questID]
	if !ok {
		m.mu.Unlock()
		return Completion{}, core.ErrNotFound
	}
	if q.Completed || m.completing[questID] {
		m.mu.Unlock()
		return Completion{Quest: q}, nil
	}
	if q.RequiresPhoto && imageURL == "" {
		m.mu.Unlock()
		return Completion{}, &core.ValidationError{Field: "imageUrl", Reason: "quest requires a photo"}
	}
	m.completing[questID] = true
	m.mu.Unlock()

	status := q.VerificationStatus
	var verification *ai.VerifyResponse
	if q.RequiresPhoto {
		res, err := m.verify(ctx, q, imageURL)
		if err != nil {
			m.mu.Lock()
			delete(m.completing, questID)
			m.mu.Unlock()
			return Completion{}, err
		}
		verification = res
		status = verificationStatus(res)
	}

	m.mu.Lock()
	delete(m.completing, questID)
	q, ok = m.quests[questID]
	if !ok || q.Completed {
		// the set was replaced or completed while verifying
		m.mu.Unlock()
		return Completion{Quest: q}, nil
	}
	now := m.nowFunc()
	q.Completed = true
	q.CompletedAt = &now
	q.VerificationStatus = status
	id := m.identity
	m.quests[questID] = q
	m.mu.Unlock()

	if err := m.progress.AddXP(q.XPReward); err != nil {
		log.Printf("quest: award for %s: %v", q.ID, err)
	}
	m.progress.IncrementStreak()
	m.progress.RecordQuestCompleted()

	if r := m.repo(id); r != nil {
		if err := r.SaveQuest(ctx, q); err != nil {
			log.Printf("quest: persist completion of %s for %s failed, marked pending: %v", q.ID, id, err)
			q.PendingSync = true
			m.markPending(q.ID, true)
			m.queue(id, q)
		}
	}
	m.notify(id, core.EventQuestCompleted, q)
	return Completion{Quest: q, Applied: true, XPAwarded: q.XPReward, Verification: verification}, nil
}

func (m *Manager) verify(ctx context.Context, q core.Quest, imageURL string) (*ai.VerifyResponse, error) {
	if m.verifier == nil {
		return nil, nil
	}
	res, err := m.verifier.VerifyPhoto(ctx, ai.VerifyRequest{
		ImageURL:         imageURL,
		QuestID:          q.ID,
		QuestTitle:       q.Title,
		QuestDescription: q.Description,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// verificationStatus maps a verifier outcome; nil means no verifier ran.
func verificationStatus(res *ai.VerifyResponse) core.VerificationStatus {
	switch {
	case res == nil:
		return core.VerificationPending
	case res.Verified:
		return core.VerificationVerified
	case res.Fallback:
		return core.VerificationPending
	default:
		return core.VerificationInvalid
	}
}

// put writes q. An incomplete pending quest can only come from a set
// replacement, so it goes through ReplaceQuest when r supports it.
func put(ctx context.Context, r Repository, q core.Quest) error {
	if rp, ok := r.(Replacer); ok && !q.Completed {
		return rp.ReplaceQuest(ctx, q)
	}
	return r.SaveQuest(ctx, q)
}

func (m *Manager) queue(id core.Identity, q core.Quest) {
	if m.outbox == nil {
		return
	}
	q.UserID = id.UserID
	if err := m.outbox.PutPending(q); err != nil {
		log.Printf("quest: outbox %s for %s: %v", q.ID, id, err)
	}
}

func (m *Manager) unqueue(id core.Identity, questID string) {
	if m.outbox == nil {
		return
	}
	if err := m.outbox.RemovePending(id.UserID, questID); err != nil {
		log.Printf("quest: outbox remove %s for %s: %v", questID, id, err)
	}
}

// AdoptGuest moves the device's guest quests to the account id when the
// account has none yet, then clears them from the device. Guest quests are
// kept when the account write fails.
func (m *Manager) AdoptGuest(ctx context.Context, id core.Identity) error {
	if m.guest == nil || m.durable == nil || id.IsGuest() {
		return nil
	}
	guestQuests, err := m.guest.ListQuests(ctx, "")
	if err != nil || len(guestQuests) == 0 {
		return err
	}
	existing, err := m.durable.ListQuests(ctx, id.UserID)
	if err != nil {
		return fmt.Errorf("adopt guest quests: %w", err)
	}
	if len(existing) == 0 {
		for _, q := range guestQuests {
			q.UserID = id.UserID
			q.PendingSync = false
			if err := m.durable.SaveQuest(ctx, q); err != nil {
				return fmt.Errorf("adopt guest quest %s: %w", q.ID, err)
			}
		}
		log.Printf("quest: moved %d guest quests to %s", len(guestQuests), id)
	}
	if c, ok := m.guest.(interface{ Clear() error }); ok {
		return c.Clear()
	}
	return nil
}

func (m *Manager) markPending(questID string, pending bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.quests[questID]; ok {
		q.PendingSync = pending
		m.quests[questID] = q
	}
}

// PendingSync lists quests whose last write has not been confirmed.
func (m *Manager) PendingSync() []core.Quest {
	var out []core.Quest
	for _, q := range m.Quests() {
		if q.PendingSync {
			out = append(out, q)
		}
	}
	return out
}

// ResyncPending retries every pending quest write and reports how many
// succeeded. The flag is cleared only on a confirmed write.
func (m *Manager) ResyncPending(ctx context.Context) (int, error) {
	id := m.Identity()
	r := m.repo(id)
	if r == nil {
		return 0, nil
	}
	var errs []error
	synced := 0
	for _, q := range m.PendingSync() {
		q.PendingSync = false
		if err := put(ctx, r, q); err != nil {
			errs = append(errs, fmt.Errorf("resync %s: %w", q.ID, err))
			continue
		}
		m.mu.Lock()
		if cur, ok := m.quests[q.ID]; ok && m.identity == id {
			cur.PendingSync = false
			m.quests[q.ID] = cur
		}
		m.mu.Unlock()
		m.unqueue(id, q.ID)
		synced++
		m.notify(id, core.EventQuestSynced, q)
	}
	return synced, errors.Join(errs...)
}

func (m *Manager) notify(id core.Identity, typ core.EventType, q core.Quest) {
	if m.bus == nil || id.IsGuest() {
		return
	}
	m.bus.Broadcast(id.UserID, core.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    id.UserID,
		EntityID:  q.ID,
		Data:      q,
		CreatedAt: m.nowFunc(),
	})
}
