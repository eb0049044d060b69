package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/common/logger"
)

// MemoryBus is the in-process EventBus. Delivery is asynchronous; handler
// errors are logged, not propagated to the publisher.
type MemoryBus struct {
	log *logger.Logger

	mu     sync.RWMutex
	subs   []*memorySubscription
	closed bool
}

type memorySubscription struct {
	bus     *MemoryBus
	subject string
	handler Handler

	mu     sync.Mutex
	active bool
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	return &MemoryBus{log: log}
}

func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Publish delivers the event to every matching subscriber.
func (b *MemoryBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, sub := range b.subs {
		sub.mu.Lock()
		active := sub.active
		sub.mu.Unlock()
		if !active || !subjectMatches(subject, sub.subject) {
			continue
		}
		go func(s *memorySubscription) {
			if err := s.handler(ctx, event); err != nil {
				b.log.Error("event handler error",
					zap.String("subject", subject),
					zap.Error(err))
			}
		}(sub)
	}
	return nil
}

// Subscribe registers a handler for a subject pattern.
func (b *MemoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}
	sub := &memorySubscription{bus: b, subject: subject, handler: handler, active: true}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Close deactivates all subscriptions.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, sub := range b.subs {
		sub.mu.Lock()
		sub.active = false
		sub.mu.Unlock()
	}
	b.subs = nil
}

// IsConnected reports whether the bus accepts publishes.
func (b *MemoryBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// subjectMatches implements NATS-style token matching: "*" matches one
// token, ">" matches one or more trailing tokens.
func subjectMatches(subject, pattern string) bool {
	if subject == pattern {
		return true
	}
	st := strings.Split(subject, ".")
	pt := strings.Split(pattern, ".")
	for i, p := range pt {
		if p == ">" {
			return i < len(st)
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(st) == len(pt)
}
