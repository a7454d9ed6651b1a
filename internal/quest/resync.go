package quest

import (
	"context"
	"log"
	"time"
)

// Resyncer periodically retries quest writes that are still pending sync.
type Resyncer struct {
	manager  *Manager
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewResyncer creates a Resyncer. Call Start() to begin.
func NewResyncer(m *Manager, interval time.Duration) *Resyncer {
	return &Resyncer{
		manager:  m,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs one pass immediately, then one per interval.
func (r *Resyncer) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	go func() {
		defer close(r.done)

		r.runPass(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runPass(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to finish.
func (r *Resyncer) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *Resyncer) runPass(ctx context.Context) {
	synced, err := r.manager.ResyncPending(ctx)
	if err != nil {
		log.Printf("resync: %v", err)
	}
	if synced > 0 {
		log.Printf("resync: confirmed %d pending quest(s)", synced)
	}
}
