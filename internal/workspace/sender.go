package workspace

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pochihq/pochi/internal/chat"
	"github.com/pochihq/pochi/internal/outbox"
)

// Sender pushes provider calls through the outbox so every outbound
// message respects per-channel pacing and rate-limit backoff.
type Sender struct {
	provider chat.Provider
	outbox   *outbox.Outbox
}

// NewSender wraps a provider with the outbox.
func NewSender(provider chat.Provider, ob *outbox.Outbox) *Sender {
	return &Sender{provider: provider, outbox: ob}
}

func channelKey(chatID int64) string { return strconv.FormatInt(chatID, 10) }

func messageKey(ref chat.MessageRef) string {
	return fmt.Sprintf("%d:%d", ref.ChatID, ref.MessageID)
}

// Send enqueues a message and waits for the platform acknowledgment.
func (s *Sender) Send(ctx context.Context, out chat.Outgoing) (chat.MessageRef, error) {
	done := s.outbox.Enqueue(channelKey(out.Dest.ChatID), outbox.Op{
		Kind: outbox.KindSend,
		Do: func(ctx context.Context) (any, error) {
			return s.provider.Send(ctx, out)
		},
	}, true)
	select {
	case res := <-done:
		if res.Err != nil {
			return chat.MessageRef{}, res.Err
		}
		ref, _ := res.Value.(chat.MessageRef)
		return ref, nil
	case <-ctx.Done():
		return chat.MessageRef{}, ctx.Err()
	}
}

// SendAsync enqueues a message without waiting.
func (s *Sender) SendAsync(out chat.Outgoing) {
	s.outbox.Enqueue(channelKey(out.Dest.ChatID), outbox.Op{
		Kind: outbox.KindSend,
		Do: func(ctx context.Context) (any, error) {
			return s.provider.Send(ctx, out)
		},
	}, false)
}

// EditAsync enqueues an edit. Consecutive edits of the same message
// coalesce in the outbox; only the newest text reaches the platform.
func (s *Sender) EditAsync(ref chat.MessageRef, text, markup string, keyboard [][]chat.Button) {
	s.outbox.Enqueue(channelKey(ref.ChatID), outbox.Op{
		Kind:       outbox.KindEdit,
		MessageKey: messageKey(ref),
		Do: func(ctx context.Context) (any, error) {
			return nil, s.provider.Edit(ctx, ref, text, markup, keyboard)
		},
	}, false)
}

// Edit enqueues an edit and waits for the result.
func (s *Sender) Edit(ctx context.Context, ref chat.MessageRef, text, markup string, keyboard [][]chat.Button) error {
	done := s.outbox.Enqueue(channelKey(ref.ChatID), outbox.Op{
		Kind:       outbox.KindEdit,
		MessageKey: messageKey(ref),
		Do: func(ctx context.Context) (any, error) {
			return nil, s.provider.Edit(ctx, ref, text, markup, keyboard)
		},
	}, true)
	select {
	case res := <-done:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeleteAsync enqueues a delete; pending edits of the message are dropped.
func (s *Sender) DeleteAsync(ref chat.MessageRef) {
	s.outbox.Enqueue(channelKey(ref.ChatID), outbox.Op{
		Kind:       outbox.KindDelete,
		MessageKey: messageKey(ref),
		Do: func(ctx context.Context) (any, error) {
			return nil, s.provider.Delete(ctx, ref)
		},
	}, false)
}
