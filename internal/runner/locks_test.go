package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pochihq/pochi/internal/model"
)

func TestSessionLocksSerializeSameSession(t *testing.T) {
	locks := NewSessionLocks()
	tok := &model.ResumeToken{Engine: "claude", Value: "s1"}

	release, err := locks.Acquire(context.Background(), "claude", tok)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locks.Acquire(ctx, "claude", tok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := locks.Acquire(context.Background(), "claude", tok)
	require.NoError(t, err)
	release2()
}

func TestSessionLocksDistinctSessionsIndependent(t *testing.T) {
	locks := NewSessionLocks()

	r1, err := locks.Acquire(context.Background(), "claude", &model.ResumeToken{Engine: "claude", Value: "s1"})
	require.NoError(t, err)
	defer r1()

	r2, err := locks.Acquire(context.Background(), "claude", &model.ResumeToken{Engine: "claude", Value: "s2"})
	require.NoError(t, err)
	defer r2()
}

func TestSessionLocksNilResumeNoop(t *testing.T) {
	locks := NewSessionLocks()
	r1, err := locks.Acquire(context.Background(), "claude", nil)
	require.NoError(t, err)
	r2, err := locks.Acquire(context.Background(), "claude", nil)
	require.NoError(t, err)
	r1()
	r2()
}
