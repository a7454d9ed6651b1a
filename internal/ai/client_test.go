package ai

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/storage/kv"
)

// recordSleep returns a sleep func that records delays instead of waiting.
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func failing() Backend {
	return BackendFunc(func(context.Context, Operation, any, any) error {
		return errors.New("connection refused")
	})
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	backend := BackendFunc(func(_ context.Context, op Operation, _ any, out any) error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		out.(*AffirmationResponse).Affirmation = "You are doing great"
		return nil
	})
	var delays []time.Duration
	c := New(backend, WithSleep(recordSleep(&delays)))

	resp, err := c.Affirmation(context.Background(), AffirmationRequest{Theme: core.ThemeFocus})
	if err != nil {
		t.Fatalf("affirmation: %v", err)
	}
	if resp.Affirmation != "You are doing great" || resp.Fallback {
		t.Fatalf("expected backend result, got %+v", resp)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("expected delays [1s 2s], got %v", delays)
	}
	var total time.Duration
	for _, d := range delays {
		total += d
	}
	if total < 3*time.Second {
		t.Fatalf("expected at least 3s of backoff, got %v", total)
	}
}

func TestAffirmationFallbackMentionsTheme(t *testing.T) {
	var delays []time.Duration
	c := New(failing(), WithSleep(recordSleep(&delays)))

	out, err := c.Invoke(context.Background(), OpAffirmation, json.RawMessage(`{"theme":"Focus"}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	resp := out.(AffirmationResponse)
	if resp.Affirmation == "" || !strings.Contains(resp.Affirmation, "Focus") {
		t.Fatalf("expected fallback mentioning Focus, got %q", resp.Affirmation)
	}
	if !resp.Fallback {
		t.Fatal("expected fallback flag")
	}
	if u := c.Usage(); u.Calls != 3 || u.Fallbacks != 1 {
		t.Fatalf("unexpected usage %+v", u)
	}
}

func TestFallbacksPerOperation(t *testing.T) {
	c := New(failing(), WithRetry(1, 0))
	ctx := context.Background()

	reply, err := c.Coaching(ctx, CoachingRequest{Message: "I skipped my run"})
	if err != nil || reply.Reply != fallbackReply {
		t.Fatalf("coaching fallback: %+v, %v", reply, err)
	}
	chat, err := c.Chat(ctx, ChatRequest{Message: "hi", Personality: PersonalityPlayful})
	if err != nil || chat.Reply != fallbackReply {
		t.Fatalf("chat fallback: %+v, %v", chat, err)
	}
	mood, err := c.Mood(ctx, MoodRequest{JournalEntry: "long day"})
	if err != nil || mood.Mood != "neutral" {
		t.Fatalf("mood fallback: %+v, %v", mood, err)
	}
	rm, err := c.Roadmap(ctx, RoadmapRequest{Goals: "run a 5k", DailyTime: 30})
	if err != nil {
		t.Fatalf("roadmap: %v", err)
	}
	if len(rm.Roadmap.Days) != 30 {
		t.Fatalf("expected 30 fallback days, got %d", len(rm.Roadmap.Days))
	}
	for _, d := range rm.Roadmap.Days {
		if len(d.Tasks) != 3 {
			t.Fatalf("day %d: expected 3 tasks, got %d", d.Day, len(d.Tasks))
		}
	}
	v, err := c.VerifyPhoto(ctx, VerifyRequest{ImageURL: "https://img.example/1.jpg", QuestID: "d7"})
	if err != nil || !v.Verified || !v.Fallback {
		t.Fatalf("expected fail-open verification, got %+v, %v", v, err)
	}
}

func TestVerifyFailClosed(t *testing.T) {
	c := New(failing(), WithRetry(1, 0), WithFailOpen(false))
	v, err := c.VerifyPhoto(context.Background(), VerifyRequest{ImageURL: "https://img.example/1.jpg", QuestID: "d7"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Verified || !v.Fallback {
		t.Fatalf("expected unverified fallback, got %+v", v)
	}
}

func TestValidationErrorsAreNotRetried(t *testing.T) {
	calls := 0
	backend := BackendFunc(func(context.Context, Operation, any, any) error {
		calls++
		return nil
	})
	c := New(backend)
	ctx := context.Background()

	if _, err := c.Affirmation(ctx, AffirmationRequest{Theme: "Chaos"}); !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := c.Roadmap(ctx, RoadmapRequest{Goals: "x", DailyTime: -1}); !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := c.Chat(ctx, ChatRequest{Message: "hi", Personality: "sarcastic"}); !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := c.Invoke(ctx, OpMood, json.RawMessage(`{"journalEntry":`)); !core.IsValidation(err) {
		t.Fatalf("expected validation error for malformed json, got %v", err)
	}
	if _, err := c.Invoke(ctx, "horoscope", nil); !core.IsValidation(err) {
		t.Fatalf("expected validation error for unknown op, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no backend calls, got %d", calls)
	}
}

func TestOfflineBackendAlwaysFallsBack(t *testing.T) {
	if err := Offline().Call(context.Background(), OpMood, nil, nil); !errors.Is(err, ErrOffline) || !IsPermanent(err) {
		t.Fatalf("expected permanent offline error, got %v", err)
	}
	var delays []time.Duration
	c := New(Offline(), WithSleep(recordSleep(&delays)))
	resp, err := c.Affirmation(context.Background(), AffirmationRequest{Theme: core.ThemeFocus})
	if err != nil || !resp.Fallback {
		t.Fatalf("expected fallback affirmation, got %+v, %v", resp, err)
	}
	if len(delays) != 0 {
		t.Fatalf("expected no backoff, got %v", delays)
	}
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	calls := 0
	backend := BackendFunc(func(context.Context, Operation, any, any) error {
		calls++
		return Permanent(errors.New("400 bad request"))
	})
	var delays []time.Duration
	c := New(backend, WithSleep(recordSleep(&delays)))
	resp, err := c.Mood(context.Background(), MoodRequest{JournalEntry: "fine"})
	if err != nil || resp.Mood != "neutral" {
		t.Fatalf("expected neutral fallback, got %+v, %v", resp, err)
	}
	if calls != 1 || len(delays) != 0 {
		t.Fatalf("expected one attempt without backoff, got calls=%d delays=%v", calls, delays)
	}
}

func openCache(t *testing.T) *kv.File {
	t.Helper()
	f, err := kv.Open(filepath.Join(t.TempDir(), "device.yaml"))
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	return f
}

func TestGuestRoadmapCached(t *testing.T) {
	var calls atomic.Int32
	backend := BackendFunc(func(_ context.Context, _ Operation, _ any, out any) error {
		calls.Add(1)
		out.(*RoadmapResponse).Roadmap = core.Roadmap{
			Theme: "Focus",
			Goal:  "read daily",
			Days:  []core.RoadmapDay{{Day: 1, Title: "Start", Tasks: []string{"a", "b", "c"}}},
		}
		return nil
	})
	file := openCache(t)
	c := New(backend, WithGuestCache(file, func() bool { return true }))
	ctx := context.Background()
	req := RoadmapRequest{Goals: "read daily", Struggles: "phone", DailyTime: 20}

	first, err := c.Roadmap(ctx, req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := c.Roadmap(ctx, req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 backend call, got %d", calls.Load())
	}
	if second.Roadmap.Goal != first.Roadmap.Goal || len(second.Roadmap.Days) != 1 {
		t.Fatalf("expected cached roadmap, got %+v", second)
	}

	// survives a reload of the device file
	reloaded, err := kv.Open(file.Path())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	c2 := New(backend, WithGuestCache(reloaded, func() bool { return true }))
	if _, err := c2.Roadmap(ctx, req); err != nil {
		t.Fatalf("after reload: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected cache hit after reload, got %d calls", calls.Load())
	}

	if err := c2.InvalidateRoadmap(); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := c2.Roadmap(ctx, req); err != nil {
		t.Fatalf("after invalidate: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected a fresh call after invalidation, got %d", calls.Load())
	}
}

func TestAuthenticatedRoadmapNotCached(t *testing.T) {
	var calls int
	backend := BackendFunc(func(_ context.Context, _ Operation, _ any, out any) error {
		calls++
		out.(*RoadmapResponse).Roadmap = core.Roadmap{Days: []core.RoadmapDay{{Day: 1}}}
		return nil
	})
	c := New(backend, WithGuestCache(openCache(t), func() bool { return false }))
	req := RoadmapRequest{Goals: "sleep earlier"}
	c.Roadmap(context.Background(), req)
	c.Roadmap(context.Background(), req)
	if calls != 2 {
		t.Fatalf("expected 2 backend calls, got %d", calls)
	}
}

func TestGuestCoachingHistoryBounded(t *testing.T) {
	c := New(failing(), WithRetry(1, 0), WithGuestCache(openCache(t), func() bool { return true }))
	for i := 0; i < coachingHistoryLimit+5; i++ {
		if _, err := c.Coaching(context.Background(), CoachingRequest{Message: "help"}); err != nil {
			t.Fatalf("coaching: %v", err)
		}
	}
	hist := c.CoachingHistory()
	if len(hist) != coachingHistoryLimit {
		t.Fatalf("expected %d entries, got %d", coachingHistoryLimit, len(hist))
	}
	if hist[0].Reply != fallbackReply {
		t.Fatalf("unexpected entry %+v", hist[0])
	}
}

func TestSlotSupersedesPreviousRequest(t *testing.T) {
	started := make(chan struct{}, 1)
	backend := BackendFunc(func(ctx context.Context, _ Operation, _ any, out any) error {
		started <- struct{}{}
		<-ctx.Done()
		out.(*ReplyResponse).Reply = "late reply"
		return ctx.Err()
	})
	c := New(backend)

	ctx1, release1 := c.Slot(context.Background(), "chat")
	defer release1()
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Chat(ctx1, ChatRequest{Message: "first", Personality: PersonalityProfessional})
		errCh <- err
	}()
	<-started

	_, release2 := c.Slot(context.Background(), "chat")
	defer release2()

	select {
	case err := <-errCh:
		if !errors.Is(err, core.ErrSuperseded) {
			t.Fatalf("expected ErrSuperseded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("superseded request did not return")
	}
}

func TestImageBlockReferences(t *testing.T) {
	if _, err := imageBlock("data:image/png;base64,iVBORw0KGgo="); err != nil {
		t.Fatalf("data url: %v", err)
	}
	if _, err := imageBlock("https://img.example/p.jpg"); err != nil {
		t.Fatalf("https url: %v", err)
	}
	if _, err := imageBlock("data:image/png,raw"); err == nil {
		t.Fatal("expected error for non-base64 data url")
	}
	if _, err := imageBlock("ftp://x"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestJSONObjectStripsFences(t *testing.T) {
	got := jsonObject("```json\n{\"mood\": \"calm\"}\n```")
	var resp MoodResponse
	if err := json.Unmarshal([]byte(got), &resp); err != nil || resp.Mood != "calm" {
		t.Fatalf("unexpected parse %q: %+v, %v", got, resp, err)
	}
}
