package runner

import (
	"context"
	"sync"

	"github.com/pochihq/pochi/internal/model"
)

// SessionLocks serializes turns on the same engine session. Two turns that
// resume the same token must not run concurrently; distinct sessions run in
// parallel. Acquisition honors context cancellation.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewSessionLocks creates an empty lock table.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]chan struct{})}
}

func sessionKey(engine model.EngineID, resume *model.ResumeToken) string {
	if resume == nil {
		return ""
	}
	return string(engine) + ":" + resume.Value
}

// Acquire takes the lock for the session named by (engine, resume). It
// returns a release func, or ctx.Err() when the context is done first.
// A nil resume means a fresh session and acquires nothing.
func (l *SessionLocks) Acquire(ctx context.Context, engine model.EngineID, resume *model.ResumeToken) (func(), error) {
	key := sessionKey(engine, resume)
	if key == "" {
		return func() {}, nil
	}

	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
