// Package bus provides the event bus the bridge publishes turn lifecycle
// events on: turn.started, turn.completed, ralph.iteration. The memory bus
// is the default; NATS is optional for external consumers.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subjects published by the bridge.
const (
	SubjectTurnStarted    = "turn.started"
	SubjectTurnCompleted  = "turn.completed"
	SubjectRalphIteration = "ralph.iteration"
)

// Event is one message on the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates an event with a fresh ID and UTC timestamp.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler processes one delivered event.
type Handler func(ctx context.Context, event *Event) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus publishes and subscribes to subjects. Subjects use NATS-style
// tokens: "*" matches one token, ">" matches the rest.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}
