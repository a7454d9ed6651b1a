package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/H4MSA/solivrah/client"
	"github.com/H4MSA/solivrah/internal/ai"
	"github.com/H4MSA/solivrah/internal/config"
	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/progress"
	"github.com/H4MSA/solivrah/internal/quest"
	"github.com/H4MSA/solivrah/internal/session"
	"github.com/H4MSA/solivrah/internal/storage"
	"github.com/H4MSA/solivrah/internal/storage/kv"
)

// device is the per-invocation wiring of a single-user client: device file,
// durable adapter, AI client, quest manager and session.
type device struct {
	cfg     *config.Config
	file    *kv.File
	quests  *kv.QuestStore
	remote  *client.Client
	durable interface {
		storage.ProgressAdapter
		storage.QuestRepository
	}
	closer  io.Closer
	ai      *ai.Client
	manager *quest.Manager
	sess    *session.Session
}

func openDevice(ctx context.Context, cfg *config.Config, userFlag string) (*device, error) {
	file, err := kv.Open(cfg.Device.StateFile)
	if err != nil {
		return nil, fmt.Errorf("open device state: %w", err)
	}
	d := &device{cfg: cfg, file: file, quests: kv.NewQuestStore(file)}

	if url := strings.TrimSpace(cfg.Device.ServerURL); url != "" {
		d.remote = client.New(url, client.WithAPIKey(cfg.Device.APIKey))
		d.durable = d.remote
	} else {
		st, err := openSQLite(cfg.Server.DBPath)
		if err != nil {
			return nil, err
		}
		d.durable = st
		d.closer = st
	}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		d.closeStores()
		return nil, fmt.Errorf("ai init failed: %w", err)
	}
	store := progress.New(core.DefaultProgress())

	// sess is assigned below; the cache option only calls isGuest later.
	var sess *session.Session
	d.ai = ai.New(backend,
		ai.WithRetry(cfg.AI.Attempts, cfg.AI.BaseDelay),
		ai.WithFailOpen(cfg.AI.FailOpen),
		ai.WithGuestCache(file, func() bool { return sess == nil || sess.Identity().IsGuest() }),
	)
	d.manager = quest.NewManager(store, d.durable,
		quest.WithVerifier(d.ai),
		quest.WithGuestRepository(d.quests),
		quest.WithOutbox(kv.NewOutbox(file)),
	)
	sess, err = session.New(session.Config{
		Store:   store,
		Guest:   kv.NewAdapter(file),
		Durable: d.durable,
		Device:  file,
		Quests:  d.manager,
		Sync:    cfg.Sync.Options(),
	})
	if err != nil {
		d.closeStores()
		return nil, err
	}
	d.sess = sess

	id := sess.Remembered()
	switch {
	case strings.TrimSpace(userFlag) != "":
		id = core.Authenticated(userFlag)
	case strings.TrimSpace(cfg.Device.UserID) != "" && !remembered(file):
		id = core.Authenticated(cfg.Device.UserID)
	}
	if err := sess.Start(ctx, id); err != nil {
		// an unreachable account leaves the device usable as a guest
		log.Printf("device: start %s failed, continuing as guest: %v", id, err)
		if err := sess.Start(ctx, core.Guest()); err != nil {
			d.Close(ctx)
			return nil, err
		}
	}
	d.resync(ctx)
	return d, nil
}

// resync replays quest writes a previous run could not deliver.
func (d *device) resync(ctx context.Context) {
	if len(d.manager.PendingSync()) == 0 {
		return
	}
	n, err := d.manager.ResyncPending(ctx)
	if err != nil {
		log.Printf("device: resync pending quests: %v", err)
	}
	if n > 0 {
		log.Printf("device: resynced %d pending quests", n)
	}
}

// newBackend builds the AI backend; tests replace it.
var newBackend = buildBackend

// remembered reports whether any identity, guest included, was recorded on
// this device. A logout is remembered and keeps device.user_id from
// logging back in.
func remembered(file *kv.File) bool {
	v, ok := file.Get(session.KeyIdentity)
	return ok && strings.TrimSpace(v) != ""
}

func (d *device) store() *progress.Store { return d.sess.Store() }

func (d *device) identity() core.Identity { return d.sess.Identity() }

// profile is the optional context forwarded with AI requests.
func (d *device) profile() *ai.UserProfile {
	rec := d.store().Snapshot()
	return &ai.UserProfile{Username: d.username(), Theme: rec.Theme, XP: rec.XP, Streak: rec.Streak}
}

func (d *device) username() string {
	if id := d.identity(); !id.IsGuest() {
		return id.UserID
	}
	return ""
}

// Close flushes pending progress writes, then releases the stores.
func (d *device) Close(ctx context.Context) error {
	var err error
	if d.sess != nil {
		err = d.sess.Close(ctx)
	}
	d.closeStores()
	return err
}

func (d *device) closeStores() {
	if d.closer != nil {
		if err := d.closer.Close(); err != nil {
			log.Printf("device: close store: %v", err)
		}
	}
}

// withDevice loads config, opens the device for the duration of fn and
// flushes on return.
func withDevice(ctx context.Context, opts *rootOptions, fn func(*device) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	d, err := openDevice(ctx, cfg, opts.user)
	if err != nil {
		return err
	}
	runErr := fn(d)
	if err := d.Close(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("flush progress: %w", err)
	}
	return runErr
}
