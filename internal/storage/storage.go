package storage

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/H4MSA/solivrah/internal/core"
)

// ProgressAdapter loads and saves whole progress snapshots. Load returns
// nil, nil when nothing is stored for the identity.
type ProgressAdapter interface {
	Load(ctx context.Context, id core.Identity) (*core.ProgressRecord, error)
	Save(ctx context.Context, id core.Identity, rec core.ProgressRecord) error
}

type QuestRepository interface {
	ListQuests(ctx context.Context, userID string) ([]core.Quest, error)
	SaveQuest(ctx context.Context, q core.Quest) error
}

type RoadmapStore interface {
	SaveRoadmap(ctx context.Context, rm core.StoredRoadmap) error
	LatestRoadmap(ctx context.Context, userID string) (core.StoredRoadmap, error)
}

// LoadOrDefault never fails: a missing record or a load error yields the
// zeroed default record.
func LoadOrDefault(ctx context.Context, a ProgressAdapter, id core.Identity) core.ProgressRecord {
	rec, err := a.Load(ctx, id)
	if err != nil {
		log.Printf("storage: load %s failed, using defaults: %v", id, err)
		return core.DefaultProgress()
	}
	if rec == nil {
		return core.DefaultProgress()
	}
	return *rec
}

// Router picks the adapter that matches the identity mode.
type Router struct {
	Guest   ProgressAdapter
	Durable ProgressAdapter
}

func NewRouter(guest, durable ProgressAdapter) *Router {
	return &Router{Guest: guest, Durable: durable}
}

func (r *Router) pick(id core.Identity) (ProgressAdapter, error) {
	if id.IsGuest() {
		if r.Guest == nil {
			return nil, fmt.Errorf("no guest adapter configured")
		}
		return r.Guest, nil
	}
	if r.Durable == nil {
		return nil, fmt.Errorf("no durable adapter configured")
	}
	return r.Durable, nil
}

func (r *Router) Load(ctx context.Context, id core.Identity) (*core.ProgressRecord, error) {
	a, err := r.pick(id)
	if err != nil {
		return nil, err
	}
	return a.Load(ctx, id)
}

func (r *Router) Save(ctx context.Context, id core.Identity, rec core.ProgressRecord) error {
	a, err := r.pick(id)
	if err != nil {
		return err
	}
	return a.Save(ctx, id, rec)
}

// InMemory is a minimal in-memory store for tests.
type InMemory struct {
	mu       sync.Mutex
	progress map[string]core.ProgressRecord
	quests   map[string]map[string]core.Quest
	roadmaps map[string]core.StoredRoadmap
	saves    int
}

func NewInMemory() *InMemory {
	return &InMemory{
		progress: make(map[string]core.ProgressRecord),
		quests:   make(map[string]map[string]core.Quest),
		roadmaps: make(map[string]core.StoredRoadmap),
	}
}

func (m *InMemory) Load(_ context.Context, id core.Identity) (*core.ProgressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.progress[id.Key()]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *InMemory) Save(_ context.Context, id core.Identity, rec core.ProgressRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[id.Key()] = rec
	m.saves++
	return nil
}

// Saves reports how many progress writes have been applied.
func (m *InMemory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *InMemory) ListQuests(_ context.Context, userID string) ([]core.Quest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Quest, 0, len(m.quests[userID]))
	for _, q := range m.quests[userID] {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *InMemory) SaveQuest(_ context.Context, q core.Quest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quests[q.UserID]; !ok {
		m.quests[q.UserID] = make(map[string]core.Quest)
	}
	m.quests[q.UserID][q.ID] = q
	return nil
}

func (m *InMemory) SaveRoadmap(_ context.Context, rm core.StoredRoadmap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roadmaps[rm.UserID] = rm
	return nil
}

func (m *InMemory) LatestRoadmap(_ context.Context, userID string) (core.StoredRoadmap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rm, ok := m.roadmaps[userID]
	if !ok {
		return core.StoredRoadmap{}, core.ErrNotFound
	}
	return rm, nil
}
