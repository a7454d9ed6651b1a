package ai

import (
	"context"
	"errors"
	"sync"
)

// Backend performs one attempt of an operation. payload is one of the typed
// requests in this package and out points at the matching response.
type Backend interface {
	Call(ctx context.Context, op Operation, payload any, out any) error
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, op Operation, payload any, out any) error

func (f BackendFunc) Call(ctx context.Context, op Operation, payload any, out any) error {
	return f(ctx, op, payload, out)
}

// ErrOffline is reported by the Offline backend.
var ErrOffline = errors.New("ai backend is offline")

// Offline returns a backend that fails every call permanently, so each
// operation serves its fallback.
func Offline() Backend {
	return BackendFunc(func(context.Context, Operation, any, any) error {
		return Permanent(ErrOffline)
	})
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (rejected request, unparseable
// response). The client goes straight to the fallback.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Usage accumulates backend attempts and token counts.
type Usage struct {
	Calls        int64 `json:"calls"`
	Failures     int64 `json:"failures"`
	Fallbacks    int64 `json:"fallbacks"`
	CacheHits    int64 `json:"cache_hits"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type usageTracker struct {
	mu sync.Mutex
	u  Usage
}

func (t *usageTracker) add(fn func(*Usage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.u)
}

func (t *usageTracker) snapshot() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.u
}

// TokenReporter is implemented by backends that know token counts.
type TokenReporter interface {
	Tokens() (input, output int64)
}
