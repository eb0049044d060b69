// Package outbox serializes outgoing chat API calls per channel with
// pacing, priority, coalescing, and rate-limit retry.
//
// Ordering rules within one channel: sends run before pending edits, edits
// before pending deletes. Consecutive edits of the same message collapse to
// the latest body. A delete cancels pending edits of the same message.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/common/logger"
)

// Kind is the operation class; lower values run first.
type Kind int

const (
	KindSend Kind = iota
	KindEdit
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindEdit:
		return "edit"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RetryAfterError signals a platform rate limit. The failed operation is
// requeued at the head of its queue and the channel pauses for After.
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.After)
}

// Result is the outcome of one executed operation.
type Result struct {
	Value any
	Err   error
}

// Op is one queued operation. MessageKey identifies the target message for
// edit coalescing and delete invalidation; sends leave it empty.
type Op struct {
	Kind       Kind
	MessageKey string
	Do         func(ctx context.Context) (any, error)
}

type pendingOp struct {
	op      Op
	waiters []chan Result
}

type channel struct {
	key  string
	kick chan struct{}

	mu           sync.Mutex
	sends        []*pendingOp
	edits        []*pendingOp
	deletes      []*pendingOp
	blockedUntil time.Time
	lastDone     time.Time
	inflight     bool
}

func (c *channel) empty() bool {
	return len(c.sends) == 0 && len(c.edits) == 0 && len(c.deletes) == 0
}

// pop removes the highest-priority pending op.
func (c *channel) pop() *pendingOp {
	switch {
	case len(c.sends) > 0:
		p := c.sends[0]
		c.sends = c.sends[1:]
		return p
	case len(c.edits) > 0:
		p := c.edits[0]
		c.edits = c.edits[1:]
		return p
	case len(c.deletes) > 0:
		p := c.deletes[0]
		c.deletes = c.deletes[1:]
		return p
	default:
		return nil
	}
}

// requeueHead puts a rate-limited op back at the front of its queue.
func (c *channel) requeueHead(p *pendingOp) {
	switch p.op.Kind {
	case KindSend:
		c.sends = append([]*pendingOp{p}, c.sends...)
	case KindEdit:
		c.edits = append([]*pendingOp{p}, c.edits...)
	case KindDelete:
		c.deletes = append([]*pendingOp{p}, c.deletes...)
	}
}

// IntervalFunc returns the minimum spacing between operations on a
// channel.
type IntervalFunc func(channelKey string) time.Duration

// Outbox owns one worker goroutine per active channel.
type Outbox struct {
	log      *logger.Logger
	interval IntervalFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool
}

// New creates an outbox. interval may be nil for no pacing.
func New(log *logger.Logger, interval IntervalFunc) *Outbox {
	if interval == nil {
		interval = func(string) time.Duration { return 0 }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Outbox{
		log:      log,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]*channel),
	}
}

// Enqueue queues op on channelKey. When wait is true the returned channel
// delivers the operation's result once it has run; callers should select
// against their own context. When wait is false it returns nil and the
// result is dropped.
//
// An edit whose MessageKey matches a pending edit replaces that edit's
// body; both callers observe the final result. A delete removes pending
// edits of the same message, resolving their waiters with a nil result.
func (o *Outbox) Enqueue(channelKey string, op Op, wait bool) <-chan Result {
	var done chan Result
	if wait {
		done = make(chan Result, 1)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		if done != nil {
			done <- Result{Err: errors.New("outbox closed")}
		}
		return done
	}
	ch, ok := o.channels[channelKey]
	if !ok {
		ch = &channel{key: channelKey, kick: make(chan struct{}, 1)}
		o.channels[channelKey] = ch
		o.wg.Add(1)
		go o.worker(ch)
	}
	o.mu.Unlock()

	ch.mu.Lock()
	switch op.Kind {
	case KindEdit:
		if prev := findByKey(ch.edits, op.MessageKey); prev != nil {
			prev.op.Do = op.Do
			if done != nil {
				prev.waiters = append(prev.waiters, done)
			}
			ch.mu.Unlock()
			o.kick(ch)
			return done
		}
	case KindDelete:
		remaining := ch.edits[:0]
		for _, p := range ch.edits {
			if op.MessageKey != "" && p.op.MessageKey == op.MessageKey {
				resolve(p.waiters, Result{})
				continue
			}
			remaining = append(remaining, p)
		}
		ch.edits = remaining
	}

	p := &pendingOp{op: op}
	if done != nil {
		p.waiters = append(p.waiters, done)
	}
	switch op.Kind {
	case KindSend:
		ch.sends = append(ch.sends, p)
	case KindEdit:
		ch.edits = append(ch.edits, p)
	case KindDelete:
		ch.deletes = append(ch.deletes, p)
	}
	ch.mu.Unlock()

	o.kick(ch)
	return done
}

func (o *Outbox) kick(ch *channel) {
	select {
	case ch.kick <- struct{}{}:
	default:
	}
}

func (o *Outbox) worker(ch *channel) {
	defer o.wg.Done()
	for {
		now := time.Now()
		ch.mu.Lock()
		ready := ch.lastDone.Add(o.interval(ch.key))
		if ch.blockedUntil.After(ready) {
			ready = ch.blockedUntil
		}
		wait := ready.Sub(now)

		var p *pendingOp
		if wait <= 0 {
			p = ch.pop()
		}
		empty := ch.empty() && p == nil
		if p != nil {
			ch.inflight = true
		}
		ch.mu.Unlock()

		if p == nil {
			if empty {
				select {
				case <-ch.kick:
				case <-o.ctx.Done():
					return
				}
				continue
			}
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-o.ctx.Done():
				timer.Stop()
				return
			}
			continue
		}

		value, err := p.op.Do(o.ctx)

		var retry *RetryAfterError
		if errors.As(err, &retry) {
			ch.mu.Lock()
			ch.requeueHead(p)
			ch.blockedUntil = time.Now().Add(retry.After)
			ch.inflight = false
			ch.mu.Unlock()
			o.log.Warn("channel rate limited",
				zap.String("channel", ch.key),
				zap.String("op", p.op.Kind.String()),
				zap.Duration("retry_after", retry.After),
			)
			continue
		}

		ch.mu.Lock()
		ch.lastDone = time.Now()
		ch.inflight = false
		ch.mu.Unlock()
		resolve(p.waiters, Result{Value: value, Err: err})
	}
}

// Flush blocks until every channel is idle or ctx expires.
func (o *Outbox) Flush(ctx context.Context) error {
	for {
		if o.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (o *Outbox) idle() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.channels {
		ch.mu.Lock()
		busy := !ch.empty() || ch.inflight
		ch.mu.Unlock()
		if busy {
			return false
		}
	}
	return true
}

// Close stops all workers. Queued operations are abandoned; call Flush
// first for a clean shutdown.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

func findByKey(ops []*pendingOp, key string) *pendingOp {
	if key == "" {
		return nil
	}
	for _, p := range ops {
		if p.op.MessageKey == key {
			return p
		}
	}
	return nil
}

func resolve(waiters []chan Result, res Result) {
	for _, w := range waiters {
		w <- res
	}
}
