// Package eventbus is a synchronous, topic based publish/subscribe hub.
//
// Topics are dot delimited ("message.sent"). A subscription pattern is either
// an exact topic or a prefix followed by ".*", which matches every topic that
// starts with the prefix and has at least one more segment: "message.*"
// matches "message.sent" but neither "message" nor "messages.cleared".
// The pattern "*" matches every topic.
package eventbus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/chatcore/internal/logger"
	"github.com/comigor/chatcore/internal/metrics"
)

// Topics published by the message core.
const (
	TopicMessageSent      = "message.sent"
	TopicMessageCancelled = "message.cancelled"
	TopicMessageRetried   = "message.retried"
	TopicMessageCompleted = "message.completed"
	TopicMessageFailed    = "message.failed"
	TopicMessageStopped   = "message.stopped"
	TopicMessagesCleared  = "messages.cleared"
	TopicCommandUndone    = "command.undone"
)

// Event is delivered to subscribers.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id      string
	pattern string
	handler Handler
}

// Bus delivers published events to matching subscribers in registration order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report subscriber panics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// New returns an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{logger: logger.L}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for topics matching pattern and returns the subscription id.
func (b *Bus) Subscribe(pattern string, handler Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})
	b.mu.Unlock()
	return id
}

// UnsubscribeByID removes a subscription. It reports whether the id was known.
func (b *Bus) UnsubscribeByID(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers payload to every current subscriber whose pattern matches
// topic, synchronously and in subscription order. Handlers may subscribe or
// unsubscribe while being called; such changes apply to the next publish.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if Match(s.pattern, topic) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(topic).Inc()
	if len(targets) == 0 {
		return
	}
	evt := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	for _, s := range targets {
		b.deliver(s, evt)
	}
}

func (b *Bus) deliver(s subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", "topic", evt.Topic, "subscription", s.id, "panic", r)
		}
	}()
	s.handler(evt)
}

// Len returns the number of subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stream subscribes a buffered channel to pattern. Delivery never blocks the
// publisher: events are dropped while the buffer is full. The subscription is
// removed and the channel closed once ctx is done.
func (b *Bus) Stream(ctx context.Context, pattern string, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	var mu sync.Mutex
	closed := false

	id := b.Subscribe(pattern, func(evt Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- evt:
		default:
			b.logger.Debug("event stream full, dropping event", "topic", evt.Topic, "pattern", pattern)
		}
	})

	go func() {
		<-ctx.Done()
		b.UnsubscribeByID(id)
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}

// Match reports whether topic matches pattern.
func Match(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		rest, found := strings.CutPrefix(topic, prefix+".")
		return found && rest != ""
	}
	return pattern == topic
}
