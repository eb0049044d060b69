package telegram

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/chat"
	"github.com/pochihq/pochi/internal/outbox"
)

// update is the Bot API Update object subset the listener consumes.
type update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *message `json:"message,omitempty"`
	EditedMessage *message `json:"edited_message,omitempty"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		From struct {
			Username  string `json:"username,omitempty"`
			FirstName string `json:"first_name,omitempty"`
		} `json:"from"`
		Message *message `json:"message,omitempty"`
		Data    string   `json:"data,omitempty"`
	} `json:"callback_query,omitempty"`
}

// Listener long-polls getUpdates and feeds normalized updates into the
// bridge channel. Messages queued before startup are acknowledged and
// dropped so a restart does not replay old conversations.
type Listener struct {
	client      *Client
	pollTimeout time.Duration
	offset      int64
	started     time.Time
}

// NewListener creates a long-poll listener for the client.
func NewListener(client *Client, pollTimeout time.Duration) *Listener {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	return &Listener{client: client, pollTimeout: pollTimeout}
}

// Listen implements chat.Listener. It blocks until ctx is done.
func (l *Listener) Listen(ctx context.Context, updates chan<- chat.Update) error {
	l.started = time.Now()
	if err := l.drainBacklog(ctx); err != nil {
		return err
	}
	for {
		batch, err := l.fetch(ctx, l.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var retry *outbox.RetryAfterError
			wait := 2 * time.Second
			if errors.As(err, &retry) {
				wait = retry.After
			}
			l.client.log.Warn("getUpdates failed",
				zap.Error(err),
				zap.Duration("backoff", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		for _, u := range batch {
			l.offset = u.UpdateID + 1
			if out := l.normalize(u); out != nil {
				select {
				case updates <- *out:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// drainBacklog acknowledges every queued update without dispatching it.
func (l *Listener) drainBacklog(ctx context.Context) error {
	dropped := 0
	for {
		batch, err := l.fetch(ctx, 0)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		for _, u := range batch {
			l.offset = u.UpdateID + 1
			dropped++
		}
	}
	if dropped > 0 {
		l.client.log.Info("dropped queued updates from before startup", zap.Int("count", dropped))
	}
	return nil
}

func (l *Listener) fetch(ctx context.Context, timeout time.Duration) ([]update, error) {
	payload := map[string]any{
		"offset":          l.offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var batch []update
	if err := l.client.call(ctx, "getUpdates", payload, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// normalize converts one Bot API update into the platform-neutral form.
// Non-text messages and edits are ignored.
func (l *Listener) normalize(u update) *chat.Update {
	if u.CallbackQuery != nil {
		cb := u.CallbackQuery
		out := &chat.Update{Callback: &chat.Callback{
			ID:   cb.ID,
			Data: cb.Data,
			From: cb.From.Username,
		}}
		if out.Callback.From == "" {
			out.Callback.From = cb.From.FirstName
		}
		if cb.Message != nil {
			out.Callback.Message = chat.MessageRef{ChatID: cb.Message.Chat.ID, MessageID: cb.Message.MessageID}
			out.Callback.Dest = chat.Destination{ChatID: cb.Message.Chat.ID, TopicID: cb.Message.MessageThreadID}
		}
		return out
	}
	if u.Message == nil {
		return nil
	}
	m := u.Message
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return nil
	}
	in := &chat.Incoming{
		Ref:  chat.MessageRef{ChatID: m.Chat.ID, MessageID: m.MessageID},
		Dest: chat.Destination{ChatID: m.Chat.ID, TopicID: m.MessageThreadID},
		Text: text,
		Date: time.Unix(m.Date, 0),
	}
	if m.From != nil {
		in.From = m.From.Username
		if in.From == "" {
			in.From = m.From.FirstName
		}
	}
	if r := m.ReplyToMessage; r != nil {
		// Telegram threads a topic's messages onto the topic-opener
		// message; that synthetic reply is not a user reply.
		if r.MessageID != m.MessageThreadID {
			in.ReplyTo = &chat.MessageRef{ChatID: r.Chat.ID, MessageID: r.MessageID}
			rt := r.Text
			if rt == "" {
				rt = r.Caption
			}
			in.ReplyToText = rt
		}
	}
	return &chat.Update{Message: in}
}
