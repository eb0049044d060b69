package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pochihq/pochi/internal/chat"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func msg(topic, id int64, text string) chat.Incoming {
	return chat.Incoming{
		Ref:  chat.MessageRef{ChatID: -100, MessageID: id},
		Dest: chat.Destination{ChatID: -100, TopicID: topic},
		Text: text,
	}
}

func TestAddBuffersAndResetsDeadline(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(200*time.Millisecond, clock.Now)

	assert.Nil(t, d.Add(msg(100, 1, "first")))
	first, ok := d.NextDeadline()
	require.True(t, ok)

	clock.Advance(150 * time.Millisecond)
	assert.Nil(t, d.Add(msg(100, 2, "second")))
	second, ok := d.NextDeadline()
	require.True(t, ok)

	// Each message pushes the deadline out; it is not monotonic from the
	// first message.
	assert.True(t, second.After(first))

	// Not expired at the original deadline.
	clock.Advance(60 * time.Millisecond)
	assert.Empty(t, d.Expired(clock.Now()))

	clock.Advance(200 * time.Millisecond)
	batches := d.Expired(clock.Now())
	require.Len(t, batches, 1)
	b := batches[0]
	assert.Equal(t, "first\nsecond", b.Text)
	assert.Equal(t, []int64{1, 2}, b.MessageIDs)
	assert.Equal(t, int64(2), b.LastMessageID)
}

func TestSlashFlushesPendingThenOwnBatch(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(200*time.Millisecond, clock.Now)

	d.Add(msg(100, 1, "thinking"))
	d.Add(msg(100, 2, "more thinking"))
	batches := d.Add(msg(100, 3, "/status"))

	require.Len(t, batches, 2)
	assert.Equal(t, "thinking\nmore thinking", batches[0].Text)
	assert.Equal(t, "/status", batches[1].Text)
	assert.Equal(t, []int64{3}, batches[1].MessageIDs)

	// Nothing pending afterwards.
	_, ok := d.NextDeadline()
	assert.False(t, ok)
}

func TestSlashWithoutPending(t *testing.T) {
	d := NewDebouncer(200*time.Millisecond, newFakeClock().Now)
	batches := d.Add(msg(100, 1, "/help"))
	require.Len(t, batches, 1)
	assert.Equal(t, "/help", batches[0].Text)
}

func TestTopicsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(200*time.Millisecond, clock.Now)

	d.Add(msg(100, 1, "backend work"))
	clock.Advance(100 * time.Millisecond)
	d.Add(msg(200, 2, "frontend work"))

	clock.Advance(150 * time.Millisecond)
	batches := d.Expired(clock.Now())
	require.Len(t, batches, 1)
	assert.Equal(t, int64(100), batches[0].TopicID)

	clock.Advance(100 * time.Millisecond)
	batches = d.Expired(clock.Now())
	require.Len(t, batches, 1)
	assert.Equal(t, int64(200), batches[0].TopicID)
}

func TestBatchKeepsFirstReplyContext(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(200*time.Millisecond, clock.Now)

	first := msg(100, 1, "continue")
	first.ReplyTo = &chat.MessageRef{ChatID: -100, MessageID: 77}
	first.ReplyToText = "`claude resume s1`"
	d.Add(first)
	d.Add(msg(100, 2, "and add tests"))

	clock.Advance(300 * time.Millisecond)
	batches := d.Expired(clock.Now())
	require.Len(t, batches, 1)
	require.NotNil(t, batches[0].ReplyTo)
	assert.Equal(t, int64(77), batches[0].ReplyTo.MessageID)
	assert.Equal(t, "`claude resume s1`", batches[0].ReplyToText)
}

func TestFlushAll(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(200*time.Millisecond, clock.Now)

	d.Add(msg(200, 2, "b"))
	d.Add(msg(100, 1, "a"))
	batches := d.FlushAll()
	require.Len(t, batches, 2)
	assert.Equal(t, int64(100), batches[0].TopicID)
	assert.Equal(t, int64(200), batches[1].TopicID)
	assert.Empty(t, d.FlushAll())
}

func TestRunEmitsExpiredBatches(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Batch, 4)
	go d.Run(ctx, func(b Batch) { got <- b })

	d.Add(msg(100, 1, "one"))
	d.Add(msg(100, 2, "two"))

	select {
	case b := <-got:
		assert.Equal(t, "one\ntwo", b.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("batch never emitted")
	}
}

func TestRunFlushesOnShutdown(t *testing.T) {
	d := NewDebouncer(time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan Batch, 4)
	done := make(chan struct{})
	go func() {
		d.Run(ctx, func(b Batch) { got <- b })
		close(done)
	}()

	d.Add(msg(100, 1, "pending"))
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not exit")
	}
	select {
	case b := <-got:
		assert.Equal(t, "pending", b.Text)
	default:
		t.Fatal("pending batch not flushed")
	}
}
