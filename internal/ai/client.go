// Package ai invokes external AI operations with retry, deterministic
// fallbacks and a guest-scoped result cache. Callers only ever receive a
// usable value, a ValidationError for a malformed request, or the
// cancellation cause of their context.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/storage/kv"
)

type Client struct {
	backend     Backend
	maxAttempts int
	baseDelay   time.Duration
	failOpen    bool
	sleep       func(context.Context, time.Duration) error
	cache       *guestCache
	isGuest     func() bool
	nowFunc     func() time.Time

	mu    sync.Mutex
	slots map[string]*slot

	usage usageTracker
}

type slot struct {
	cancel context.CancelCauseFunc
}

type Option func(*Client)

// WithRetry sets the number of attempts and the delay before the first
// retry; each further retry doubles it.
func WithRetry(attempts int, base time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if base >= 0 {
			c.baseDelay = base
		}
	}
}

// WithFailOpen chooses the verification fallback: true reports verified,
// false reports unverified so the quest stays pending.
func WithFailOpen(open bool) Option {
	return func(c *Client) { c.failOpen = open }
}

// WithGuestCache enables the roadmap cache and coaching history for guest
// callers. isGuest is consulted on every call.
func WithGuestCache(file *kv.File, isGuest func() bool) Option {
	return func(c *Client) {
		if file != nil && isGuest != nil {
			c.cache = &guestCache{file: file}
			c.isGuest = isGuest
		}
	}
}

// WithSleep replaces the backoff sleep; it must return early when ctx ends.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func New(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend:     backend,
		maxAttempts: 3,
		baseDelay:   time.Second,
		failOpen:    true,
		sleep:       sleepCtx,
		nowFunc:     time.Now,
		slots:       make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Slot derives a context for a logical request slot such as one chat
// conversation. Opening a slot cancels the previous request on the same key
// with core.ErrSuperseded. The returned func releases the slot.
func (c *Client) Slot(ctx context.Context, key string) (context.Context, func()) {
	sctx, cancel := context.WithCancelCause(ctx)
	s := &slot{cancel: cancel}
	c.mu.Lock()
	if prev, ok := c.slots[key]; ok {
		prev.cancel(core.ErrSuperseded)
	}
	c.slots[key] = s
	c.mu.Unlock()
	return sctx, func() {
		c.mu.Lock()
		if c.slots[key] == s {
			delete(c.slots, key)
		}
		c.mu.Unlock()
		cancel(context.Canceled)
	}
}

func (c *Client) Usage() Usage {
	u := c.usage.snapshot()
	if tr, ok := c.backend.(TokenReporter); ok {
		u.InputTokens, u.OutputTokens = tr.Tokens()
	}
	return u
}

// FailOpen reports the verification fallback policy.
func (c *Client) FailOpen() bool { return c.failOpen }

func (c *Client) guest() bool {
	return c.cache != nil && c.isGuest()
}

// invoke runs up to maxAttempts backend calls, sleeping baseDelay*2^n
// before retry n+1. Permanent errors stop early.
func (c *Client) invoke(ctx context.Context, op Operation, payload any, out any) error {
	var err error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if serr := c.sleep(ctx, c.baseDelay<<(attempt-1)); serr != nil {
				return context.Cause(ctx)
			}
		}
		c.usage.add(func(u *Usage) { u.Calls++ })
		err = c.backend.Call(ctx, op, payload, out)
		if err == nil {
			return nil
		}
		c.usage.add(func(u *Usage) { u.Failures++ })
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		log.Printf("ai: %s attempt %d/%d failed: %v", op, attempt+1, c.maxAttempts, err)
		if IsPermanent(err) {
			break
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, err)
}

// finish turns the outcome of invoke into either the caller's cancellation
// cause or a flag telling the operation to use its fallback.
func (c *Client) finish(ctx context.Context, op Operation, err error, empty bool) (bool, error) {
	if ctx.Err() != nil {
		return false, context.Cause(ctx)
	}
	if err == nil && !empty {
		return false, nil
	}
	if err == nil {
		log.Printf("ai: %s returned an empty result, using fallback", op)
	} else {
		log.Printf("ai: %s using fallback: %v", op, err)
	}
	c.usage.add(func(u *Usage) { u.Fallbacks++ })
	return true, nil
}

func (c *Client) Affirmation(ctx context.Context, req AffirmationRequest) (AffirmationResponse, error) {
	if t, err := core.ParseTheme(string(req.Theme)); err == nil {
		req.Theme = t
	}
	if err := req.Validate(); err != nil {
		return AffirmationResponse{}, err
	}
	var resp AffirmationResponse
	err := c.invoke(ctx, OpAffirmation, req, &resp)
	useFallback, cerr := c.finish(ctx, OpAffirmation, err, resp.Affirmation == "")
	if cerr != nil {
		return AffirmationResponse{}, cerr
	}
	if useFallback {
		return fallbackAffirmation(req), nil
	}
	return resp, nil
}

func (c *Client) Coaching(ctx context.Context, req CoachingRequest) (ReplyResponse, error) {
	if err := req.Validate(); err != nil {
		return ReplyResponse{}, err
	}
	var resp ReplyResponse
	err := c.invoke(ctx, OpCoaching, req, &resp)
	useFallback, cerr := c.finish(ctx, OpCoaching, err, resp.Reply == "")
	if cerr != nil {
		return ReplyResponse{}, cerr
	}
	if useFallback {
		resp = ReplyResponse{Reply: fallbackReply, Fallback: true}
	}
	if c.guest() {
		ex := CoachingExchange{Message: req.Message, Reply: resp.Reply, At: c.nowFunc().UTC()}
		if err := c.cache.appendCoaching(ex); err != nil {
			log.Printf("ai: cache coaching history: %v", err)
		}
	}
	return resp, nil
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (ReplyResponse, error) {
	if err := req.Validate(); err != nil {
		return ReplyResponse{}, err
	}
	var resp ReplyResponse
	err := c.invoke(ctx, OpChatbot, req, &resp)
	useFallback, cerr := c.finish(ctx, OpChatbot, err, resp.Reply == "")
	if cerr != nil {
		return ReplyResponse{}, cerr
	}
	if useFallback {
		return ReplyResponse{Reply: fallbackReply, Fallback: true}, nil
	}
	return resp, nil
}

// Roadmap serves guests from the device cache when the request fingerprint
// matches the cached one; otherwise the result, fallback included, replaces
// the cache entry.
func (c *Client) Roadmap(ctx context.Context, req RoadmapRequest) (RoadmapResponse, error) {
	if err := req.Validate(); err != nil {
		return RoadmapResponse{}, err
	}
	guest := c.guest()
	var fp string
	if guest {
		fp = fingerprint(req)
		if cached, ok := c.cache.roadmap(fp); ok {
			c.usage.add(func(u *Usage) { u.CacheHits++ })
			return cached, nil
		}
	}
	var resp RoadmapResponse
	err := c.invoke(ctx, OpRoadmap, req, &resp)
	useFallback, cerr := c.finish(ctx, OpRoadmap, err, len(resp.Roadmap.Days) == 0)
	if cerr != nil {
		return RoadmapResponse{}, cerr
	}
	if useFallback {
		resp = fallbackRoadmap(req)
	}
	if guest {
		if err := c.cache.storeRoadmap(fp, resp); err != nil {
			log.Printf("ai: cache roadmap: %v", err)
		}
	}
	return resp, nil
}

func (c *Client) Mood(ctx context.Context, req MoodRequest) (MoodResponse, error) {
	if err := req.Validate(); err != nil {
		return MoodResponse{}, err
	}
	var resp MoodResponse
	err := c.invoke(ctx, OpMood, req, &resp)
	useFallback, cerr := c.finish(ctx, OpMood, err, resp.Mood == "")
	if cerr != nil {
		return MoodResponse{}, cerr
	}
	if useFallback {
		return MoodResponse{Mood: fallbackMood, Fallback: true}, nil
	}
	return resp, nil
}

func (c *Client) VerifyPhoto(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	if err := req.Validate(); err != nil {
		return VerifyResponse{}, err
	}
	var resp VerifyResponse
	err := c.invoke(ctx, OpVerification, req, &resp)
	useFallback, cerr := c.finish(ctx, OpVerification, err, false)
	if cerr != nil {
		return VerifyResponse{}, cerr
	}
	if useFallback {
		return fallbackVerify(c.failOpen), nil
	}
	return resp, nil
}

// InvalidateRoadmap drops the cached guest roadmap.
func (c *Client) InvalidateRoadmap() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.invalidateRoadmap()
}

// CoachingHistory returns the cached guest coaching turns, oldest first.
func (c *Client) CoachingHistory() []CoachingExchange {
	if c.cache == nil {
		return nil
	}
	return c.cache.coachingHistory()
}

// ClearGuestCache removes every guest-scoped AI entry.
func (c *Client) ClearGuestCache() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.clear()
}

// Invoke dispatches op with a typed request or its raw JSON encoding.
func (c *Client) Invoke(ctx context.Context, op Operation, payload any) (any, error) {
	switch op {
	case OpAffirmation:
		var req AffirmationRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return c.Affirmation(ctx, req)
	case OpCoaching:
		var req CoachingRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return c.Coaching(ctx, req)
	case OpChatbot:
		var req ChatRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return c.Chat(ctx, req)
	case OpRoadmap:
		var req RoadmapRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return c.Roadmap(ctx, req)
	case OpMood:
		var req MoodRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return c.Mood(ctx, req)
	case OpVerification:
		var req VerifyRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return c.VerifyPhoto(ctx, req)
	default:
		return nil, &core.ValidationError{Field: "operation", Reason: "unknown operation " + string(op)}
	}
}

func decodePayload[T any](payload any, dst *T) error {
	switch p := payload.(type) {
	case T:
		*dst = p
		return nil
	case *T:
		if p == nil {
			return &core.ValidationError{Reason: "empty payload"}
		}
		*dst = *p
		return nil
	case json.RawMessage:
		return decodeJSON(p, dst)
	case []byte:
		return decodeJSON(p, dst)
	default:
		return &core.ValidationError{Reason: fmt.Sprintf("unexpected payload type %T", payload)}
	}
}

func decodeJSON(b []byte, dst any) error {
	if err := json.Unmarshal(b, dst); err != nil {
		return &core.ValidationError{Reason: "malformed payload: " + err.Error()}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
