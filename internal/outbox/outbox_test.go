package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pochihq/pochi/internal/common/logger"
)

type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) op(name string) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		r.mu.Lock()
		r.ops = append(r.ops, name)
		r.mu.Unlock()
		return name, nil
	}
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	copy(out, r.ops)
	return out
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not complete")
		return Result{}
	}
}

func TestSendRunsBeforePendingEditAndDelete(t *testing.T) {
	rec := &recorder{}
	o := New(logger.Default(), nil)
	defer o.Close()

	// Stall the worker so the queue builds up in one batch.
	gate := make(chan struct{})
	o.Enqueue("c", Op{Kind: KindSend, Do: func(context.Context) (any, error) {
		<-gate
		return nil, nil
	}}, false)

	o.Enqueue("c", Op{Kind: KindDelete, MessageKey: "m9", Do: rec.op("delete")}, false)
	o.Enqueue("c", Op{Kind: KindEdit, MessageKey: "m1", Do: rec.op("edit")}, false)
	done := o.Enqueue("c", Op{Kind: KindSend, Do: rec.op("send")}, true)
	close(gate)

	await(t, done)
	require.NoError(t, o.Flush(context.Background()))
	assert.Equal(t, []string{"send", "edit", "delete"}, rec.get())
}

func TestConsecutiveEditsCoalesce(t *testing.T) {
	rec := &recorder{}
	o := New(logger.Default(), nil)
	defer o.Close()

	gate := make(chan struct{})
	o.Enqueue("c", Op{Kind: KindSend, Do: func(context.Context) (any, error) {
		<-gate
		return nil, nil
	}}, false)

	first := o.Enqueue("c", Op{Kind: KindEdit, MessageKey: "m1", Do: rec.op("edit-old")}, true)
	second := o.Enqueue("c", Op{Kind: KindEdit, MessageKey: "m1", Do: rec.op("edit-new")}, true)
	close(gate)

	r1 := await(t, first)
	r2 := await(t, second)
	// Both callers observe the final body's result.
	assert.Equal(t, "edit-new", r1.Value)
	assert.Equal(t, "edit-new", r2.Value)
	assert.Equal(t, []string{"edit-new"}, rec.get())
}

func TestDeleteInvalidatesPendingEdits(t *testing.T) {
	rec := &recorder{}
	o := New(logger.Default(), nil)
	defer o.Close()

	gate := make(chan struct{})
	o.Enqueue("c", Op{Kind: KindSend, Do: func(context.Context) (any, error) {
		<-gate
		return nil, nil
	}}, false)

	edit := o.Enqueue("c", Op{Kind: KindEdit, MessageKey: "m1", Do: rec.op("edit")}, true)
	other := o.Enqueue("c", Op{Kind: KindEdit, MessageKey: "m2", Do: rec.op("edit-other")}, true)
	o.Enqueue("c", Op{Kind: KindDelete, MessageKey: "m1", Do: rec.op("delete")}, false)
	close(gate)

	// The invalidated edit resolves with an empty result, unexecuted.
	res := await(t, edit)
	assert.NoError(t, res.Err)
	assert.Nil(t, res.Value)

	await(t, other)
	require.NoError(t, o.Flush(context.Background()))
	assert.Equal(t, []string{"edit-other", "delete"}, rec.get())
}

func TestFireAndForgetReturnsNil(t *testing.T) {
	o := New(logger.Default(), nil)
	defer o.Close()
	ch := o.Enqueue("c", Op{Kind: KindEdit, MessageKey: "m", Do: func(context.Context) (any, error) {
		return nil, nil
	}}, false)
	assert.Nil(t, ch)
	require.NoError(t, o.Flush(context.Background()))
}

func TestRetryAfterRequeuesAndBlocks(t *testing.T) {
	o := New(logger.Default(), nil)
	defer o.Close()

	var calls atomic.Int32
	start := time.Now()
	done := o.Enqueue("c", Op{Kind: KindSend, Do: func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, &RetryAfterError{After: 150 * time.Millisecond}
		}
		return "ok", nil
	}}, true)

	res := await(t, done)
	require.NoError(t, res.Err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestPacingSpacesOperations(t *testing.T) {
	o := New(logger.Default(), func(string) time.Duration { return 100 * time.Millisecond })
	defer o.Close()

	var times []time.Time
	var mu sync.Mutex
	op := func(context.Context) (any, error) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return nil, nil
	}
	o.Enqueue("c", Op{Kind: KindSend, Do: op}, false)
	done := o.Enqueue("c", Op{Kind: KindSend, Do: op}, true)
	await(t, done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 2)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 90*time.Millisecond)
}

func TestChannelsAreIndependent(t *testing.T) {
	o := New(logger.Default(), nil)
	defer o.Close()

	block := make(chan struct{})
	o.Enqueue("a", Op{Kind: KindSend, Do: func(context.Context) (any, error) {
		<-block
		return nil, nil
	}}, false)

	done := o.Enqueue("b", Op{Kind: KindSend, Do: func(context.Context) (any, error) {
		return "b-ran", nil
	}}, true)

	res := await(t, done)
	assert.Equal(t, "b-ran", res.Value)
	close(block)
}

func TestEnqueueAfterClose(t *testing.T) {
	o := New(logger.Default(), nil)
	o.Close()
	done := o.Enqueue("c", Op{Kind: KindSend, Do: func(context.Context) (any, error) {
		return nil, nil
	}}, true)
	res := await(t, done)
	assert.Error(t, res.Err)
}
