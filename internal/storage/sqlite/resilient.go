package sqlite

import (
	"context"
	"time"

	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/storage"
)

var _ storage.DomainStore = (*ResilientStore)(nil)

// ResilientStore runs every Store call through a CircuitBreaker and
// RetryOnDBLock. It does not retry ordinary write failures; delivery
// guarantees for progress writes belong to the sync scheduler.
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
}

// NewResilient uses threshold=5, resetTimeout=30s.
func NewResilient(inner *Store) *ResilientStore {
	return &ResilientStore{inner: inner, cb: NewCircuitBreaker(5, 30*time.Second)}
}

func NewResilientWithBreaker(inner *Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb}
}

func (r *ResilientStore) CircuitBreakerState() string {
	return r.cb.State().String()
}

func (r *ResilientStore) Close() error {
	return r.inner.Close()
}

func (r *ResilientStore) do(ctx context.Context, fn func() error) error {
	return r.cb.Execute(func() error {
		return RetryOnDBLock(ctx, fn)
	})
}

func (r *ResilientStore) Load(ctx context.Context, id core.Identity) (*core.ProgressRecord, error) {
	var result *core.ProgressRecord
	err := r.do(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.Load(ctx, id)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) Save(ctx context.Context, id core.Identity, rec core.ProgressRecord) error {
	return r.do(ctx, func() error {
		return r.inner.Save(ctx, id, rec)
	})
}

func (r *ResilientStore) ListQuests(ctx context.Context, userID string) ([]core.Quest, error) {
	var result []core.Quest
	err := r.do(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.ListQuests(ctx, userID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) SaveQuest(ctx context.Context, q core.Quest) error {
	return r.do(ctx, func() error {
		return r.inner.SaveQuest(ctx, q)
	})
}

func (r *ResilientStore) SaveRoadmap(ctx context.Context, rm core.StoredRoadmap) error {
	return r.do(ctx, func() error {
		return r.inner.SaveRoadmap(ctx, rm)
	})
}

func (r *ResilientStore) LatestRoadmap(ctx context.Context, userID string) (core.StoredRoadmap, error) {
	var result core.StoredRoadmap
	err := r.do(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.LatestRoadmap(ctx, userID)
		return innerErr
	})
	return result, err
}
