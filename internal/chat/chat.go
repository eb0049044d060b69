// Package chat defines the platform-neutral message types and the provider
// contract chat transports implement.
package chat

import (
	"context"
	"time"
)

// Platform identifies a chat transport implementation.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
)

// MessageRef identifies one sent message on a platform.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// IsZero reports whether the ref is unset.
func (r MessageRef) IsZero() bool {
	return r.ChatID == 0 && r.MessageID == 0
}

// Destination addresses outgoing messages: a chat plus an optional topic
// (forum thread). TopicID 0 means the chat's general stream.
type Destination struct {
	ChatID  int64
	TopicID int64
}

// Button is one inline keyboard button carrying a callback payload.
type Button struct {
	Text string
	Data string
}

// Incoming is one received chat message, normalized across platforms.
type Incoming struct {
	Ref         MessageRef
	Dest        Destination
	Text        string
	From        string
	Date        time.Time
	ReplyTo     *MessageRef
	ReplyToText string
}

// Callback is one inline button press.
type Callback struct {
	ID      string
	Data    string
	Message MessageRef
	Dest    Destination
	From    string
}

// Outgoing is one message to send.
type Outgoing struct {
	Dest     Destination
	Text     string
	Markup   string
	ReplyTo  *MessageRef
	Keyboard [][]Button
}

// Update is one inbound transport event.
type Update struct {
	Message  *Incoming
	Callback *Callback
}

// Provider is the raw platform API surface. Implementations perform one
// call per method with no queueing; pacing and retries live in the outbox.
type Provider interface {
	Platform() Platform
	Send(ctx context.Context, out Outgoing) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text, markup string, keyboard [][]Button) error
	Delete(ctx context.Context, ref MessageRef) error
}

// Listener receives inbound updates, blocking until ctx is done.
type Listener interface {
	Listen(ctx context.Context, updates chan<- Update) error
}
