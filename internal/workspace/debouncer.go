package workspace

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pochihq/pochi/internal/chat"
)

// DefaultDebounceWindow is the per-topic batching window.
const DefaultDebounceWindow = 200 * time.Millisecond

// Batch is one debounced unit of work: the joined text of the pending
// messages for a topic, with per-message IDs preserved for cancellation
// targeting. The last message is the reply target; the first message's
// reply context carries resume resolution.
type Batch struct {
	TopicID       int64
	Dest          chat.Destination
	Text          string
	MessageIDs    []int64
	LastMessageID int64
	ReplyTo       *chat.MessageRef
	ReplyToText   string
	From          string
}

type pendingTopic struct {
	msgs     []chat.Incoming
	deadline time.Time
}

// Debouncer batches rapid messages per topic. Each new message resets the
// topic's deadline to now+window; slash commands bypass the window
// entirely.
type Debouncer struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	pending map[int64]*pendingTopic
	kick    chan struct{}
}

// NewDebouncer creates a debouncer. now may be nil for the real clock.
func NewDebouncer(window time.Duration, now func() time.Time) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Debouncer{
		window:  window,
		now:     now,
		pending: make(map[int64]*pendingTopic),
		kick:    make(chan struct{}, 1),
	}
}

// Add accepts one message and returns any batches that are ready now. A
// slash command flushes the topic's pending batch and returns itself as a
// second single-message batch, in order. Other messages buffer and reset
// the topic deadline.
func (d *Debouncer) Add(msg chat.Incoming) []Batch {
	topic := msg.Dest.TopicID

	d.mu.Lock()
	defer d.mu.Unlock()

	if strings.HasPrefix(msg.Text, "/") {
		var out []Batch
		if p, ok := d.pending[topic]; ok {
			out = append(out, buildBatch(topic, p.msgs))
			delete(d.pending, topic)
		}
		out = append(out, buildBatch(topic, []chat.Incoming{msg}))
		return out
	}

	p, ok := d.pending[topic]
	if !ok {
		p = &pendingTopic{}
		d.pending[topic] = p
	}
	p.msgs = append(p.msgs, msg)
	p.deadline = d.now().Add(d.window)

	select {
	case d.kick <- struct{}{}:
	default:
	}
	return nil
}

// NextDeadline returns the earliest pending deadline.
func (d *Debouncer) NextDeadline() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var earliest time.Time
	found := false
	for _, p := range d.pending {
		if !found || p.deadline.Before(earliest) {
			earliest = p.deadline
			found = true
		}
	}
	return earliest, found
}

// Expired removes and returns all batches whose deadline has passed,
// ordered by deadline.
func (d *Debouncer) Expired(now time.Time) []Batch {
	d.mu.Lock()
	defer d.mu.Unlock()

	type due struct {
		topic    int64
		deadline time.Time
	}
	var ready []due
	for topic, p := range d.pending {
		if !p.deadline.After(now) {
			ready = append(ready, due{topic, p.deadline})
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].deadline.Before(ready[j].deadline) })

	out := make([]Batch, 0, len(ready))
	for _, r := range ready {
		out = append(out, buildBatch(r.topic, d.pending[r.topic].msgs))
		delete(d.pending, r.topic)
	}
	return out
}

// FlushAll drains every pending topic regardless of deadline, used at
// shutdown.
func (d *Debouncer) FlushAll() []Batch {
	d.mu.Lock()
	defer d.mu.Unlock()

	topics := make([]int64, 0, len(d.pending))
	for topic := range d.pending {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })

	out := make([]Batch, 0, len(topics))
	for _, topic := range topics {
		out = append(out, buildBatch(topic, d.pending[topic].msgs))
		delete(d.pending, topic)
	}
	return out
}

// Run wakes on the earliest deadline and emits expired batches until ctx
// is done. Remaining batches are flushed through emit on exit.
func (d *Debouncer) Run(ctx context.Context, emit func(Batch)) {
	for {
		deadline, ok := d.NextDeadline()
		if !ok {
			select {
			case <-d.kick:
				continue
			case <-ctx.Done():
				for _, b := range d.FlushAll() {
					emit(b)
				}
				return
			}
		}

		wait := deadline.Sub(d.now())
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-d.kick:
				timer.Stop()
				continue
			case <-ctx.Done():
				timer.Stop()
				for _, b := range d.FlushAll() {
					emit(b)
				}
				return
			}
		}
		for _, b := range d.Expired(d.now()) {
			emit(b)
		}
	}
}

func buildBatch(topic int64, msgs []chat.Incoming) Batch {
	texts := make([]string, 0, len(msgs))
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, m.Text)
		ids = append(ids, m.Ref.MessageID)
	}
	first := msgs[0]
	return Batch{
		TopicID:       topic,
		Dest:          first.Dest,
		Text:          strings.Join(texts, "\n"),
		MessageIDs:    ids,
		LastMessageID: ids[len(ids)-1],
		ReplyTo:       first.ReplyTo,
		ReplyToText:   first.ReplyToText,
		From:          first.From,
	}
}
