// Package syncer persists progress snapshots in the background. Each
// identity has its own queue holding only the newest snapshot and a single
// worker that writes it, so a burst of mutations turns into one write and the
// last mutation is always the last write applied.
package syncer

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/progress"
	"github.com/H4MSA/solivrah/internal/storage"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("sync scheduler closed")

type Options struct {
	Debounce  time.Duration
	RetryBase time.Duration
	RetryMax  time.Duration
}

func DefaultOptions() Options {
	return Options{
		Debounce:  300 * time.Millisecond,
		RetryBase: time.Second,
		RetryMax:  30 * time.Second,
	}
}

type Stats struct {
	Writes   int64
	Failures int64
}

type Scheduler struct {
	adapter  storage.ProgressAdapter
	identity func() core.Identity
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	queues  map[string]*queue
	closing bool

	writes   atomic.Int64
	failures atomic.Int64
}

type queue struct {
	id      core.Identity
	kick    chan struct{}
	rec     core.ProgressRecord
	version uint64
	dirty   bool
	touched time.Time
	urgent  bool
	retryAt time.Time
	backoff time.Duration
	waiters []chan error
}

// New creates a scheduler writing through adapter. identity reports the
// active identity at mutation time; it may be nil when Enqueue is used
// directly.
func New(adapter storage.ProgressAdapter, identity func() core.Identity, opts Options) *Scheduler {
	def := DefaultOptions()
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = def.RetryBase
	}
	if opts.RetryMax < opts.RetryBase {
		opts.RetryMax = max(def.RetryMax, opts.RetryBase)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		adapter:  adapter,
		identity: identity,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
		queues:   make(map[string]*queue),
	}
}

// Attach subscribes the scheduler to store mutations and returns the
// unsubscribe function.
func (s *Scheduler) Attach(store *progress.Store) func() {
	return store.Subscribe(func(rec core.ProgressRecord) {
		id := core.Guest()
		if s.identity != nil {
			id = s.identity()
		}
		if err := s.Enqueue(id, rec); err != nil {
			log.Printf("syncer: dropped snapshot for %s: %v", id, err)
		}
	})
}

// Enqueue replaces the pending snapshot for id and (re)arms its debounce.
// It never blocks on the adapter.
func (s *Scheduler) Enqueue(id core.Identity, rec core.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrClosed
	}
	q, ok := s.queues[id.Key()]
	if !ok {
		q = &queue{id: id, kick: make(chan struct{}, 1)}
		s.queues[id.Key()] = q
		s.wg.Add(1)
		go s.run(q)
	}
	q.rec = rec
	q.version++
	q.dirty = true
	q.touched = time.Now()
	signal(q.kick)
	return nil
}

// Flush writes every pending snapshot now and waits for the outcome. It
// returns the first save error; failed snapshots stay queued for retry.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	var waits []chan error
	for _, q := range s.queues {
		if !q.dirty {
			continue
		}
		ch := make(chan error, 1)
		q.waiters = append(q.waiters, ch)
		q.urgent = true
		waits = append(waits, ch)
		signal(q.kick)
	}
	s.mu.Unlock()

	var first error
	for _, ch := range waits {
		select {
		case err := <-ch:
			if err != nil && first == nil {
				first = err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return first
}

// Close flushes pending snapshots and stops every worker. Snapshots that
// still cannot be written are logged and dropped.
func (s *Scheduler) Close(ctx context.Context) error {
	flushErr := s.Flush(ctx)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return flushErr
	}
	s.closing = true
	s.mu.Unlock()
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
	s.cancel()
	return flushErr
}

// Pending lists the identity keys with an unwritten snapshot.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for key, q := range s.queues {
		if q.dirty {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) Stats() Stats {
	return Stats{Writes: s.writes.Load(), Failures: s.failures.Load()}
}

func (s *Scheduler) run(q *queue) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		dirty, urgent := q.dirty, q.urgent
		due := q.touched.Add(s.opts.Debounce)
		if q.retryAt.After(due) {
			due = q.retryAt
		}
		s.mu.Unlock()

		if !dirty {
			select {
			case <-q.kick:
				continue
			case <-s.stopCh:
				return
			}
		}
		if !urgent {
			if wait := time.Until(due); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-t.C:
				case <-q.kick:
					t.Stop()
					continue
				case <-s.stopCh:
					t.Stop()
					log.Printf("syncer: stopping with unsaved snapshot for %s", q.id)
					return
				}
			}
		}
		s.write(q)
	}
}

func (s *Scheduler) write(q *queue) {
	s.mu.Lock()
	rec, version := q.rec, q.version
	s.mu.Unlock()

	err := s.adapter.Save(s.ctx, q.id, rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failures.Add(1)
		if q.backoff == 0 {
			q.backoff = s.opts.RetryBase
		} else {
			q.backoff = min(q.backoff*2, s.opts.RetryMax)
		}
		q.retryAt = time.Now().Add(q.backoff)
		q.urgent = false
		log.Printf("syncer: save %s failed, retrying in %s: %v", q.id, q.backoff, err)
		notify(q, err)
		return
	}
	s.writes.Add(1)
	q.backoff = 0
	q.retryAt = time.Time{}
	if q.version != version {
		// a newer snapshot arrived while saving; it is written next
		return
	}
	q.dirty = false
	q.urgent = false
	notify(q, nil)
}

func notify(q *queue, err error) {
	for _, ch := range q.waiters {
		ch <- err
	}
	q.waiters = nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
