// Package service is the chat facing façade over a message.Processor.
//
// A MessageService calls the processor directly, without going through a
// command.Manager, and keeps its own processing set and bounded history.
// Every successful operation is republished on the event bus.
package service

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/chatcore/internal/apperr"
	"github.com/comigor/chatcore/internal/bounded"
	"github.com/comigor/chatcore/internal/eventbus"
	"github.com/comigor/chatcore/internal/logger"
	"github.com/comigor/chatcore/internal/message"
)

// Bus is the part of eventbus.Bus the service uses.
type Bus interface {
	Publish(topic string, payload any)
	Subscribe(pattern string, handler eventbus.Handler) string
	UnsubscribeByID(id string) bool
}

// SentEvent is the payload of message.sent.
type SentEvent struct {
	Content   string `json:"content"`
	RoomID    int64  `json:"roomId"`
	MessageID string `json:"messageId"`
}

// MessageEvent is the payload of message.cancelled and message.retried.
type MessageEvent struct {
	MessageID string `json:"messageId"`
}

// ClearedEvent is the payload of messages.cleared.
type ClearedEvent struct {
	RoomID   int64 `json:"roomId"`
	Messages int   `json:"messages"`
}

// UndoneEvent is the payload of command.undone.
type UndoneEvent struct {
	Type      message.RequestType `json:"type"`
	Content   *string             `json:"content,omitempty"`
	RoomID    *int64              `json:"roomId,omitempty"`
	MessageID string              `json:"messageId,omitempty"`
}

// Finished is implemented by event payloads that end a message's processing.
type Finished interface {
	FinishedMessageID() string
}

// HistoryEntry is one operation recorded by the service.
type HistoryEntry struct {
	Type      message.RequestType `json:"type"`
	Content   *string             `json:"content,omitempty"`
	RoomID    *int64              `json:"roomId,omitempty"`
	MessageID string              `json:"messageId,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// MessageService tracks in-flight messages for one chat surface.
type MessageService struct {
	processor message.Processor
	bus       Bus
	logger    *slog.Logger

	mu         sync.Mutex
	processing map[string]struct{}
	settled    []string // settled before they were tracked, oldest first
	removed    []string // removed while tracked, a late settle is dropped
	history    *bounded.Buffer[HistoryEntry]
}

const maxSettled = 64

// Option configures a MessageService.
type Option func(*options)

type options struct {
	maxHistory int
	logger     *slog.Logger
}

// WithMaxHistory caps the service history. Non-positive values keep the default of 10.
func WithMaxHistory(n int) Option {
	return func(o *options) {
		o.maxHistory = n
	}
}

// WithLogger sets the service logger. If not set, logger.L is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New returns a service over processor publishing on bus.
func New(processor message.Processor, bus Bus, opts ...Option) (*MessageService, error) {
	if isNil(processor) {
		return nil, apperr.Validation("Message processor is required")
	}
	if isNil(bus) {
		return nil, apperr.Validation("Event bus is required")
	}
	o := options{maxHistory: bounded.DefaultCapacity, logger: logger.L}
	for _, opt := range opts {
		opt(&o)
	}
	return &MessageService{
		processor:  processor,
		bus:        bus,
		logger:     o.logger,
		processing: make(map[string]struct{}),
		history:    bounded.New[HistoryEntry](o.maxHistory),
	}, nil
}

// SendMessage sends content to roomID. When the processor does not report a
// message id one is generated so the message can still be tracked.
func (s *MessageService) SendMessage(ctx context.Context, content string, roomID int64) (message.Result, error) {
	res, err := s.processor.Process(ctx, message.SendRequest{Content: content, RoomID: roomID})
	if err != nil {
		return res, err
	}
	if res.MessageID == "" {
		res.MessageID = uuid.NewString()
		s.logger.Debug("processor returned no message id, generated one", "id", res.MessageID)
	}

	s.track(res.MessageID)
	s.record(HistoryEntry{Type: message.TypeSend, Content: &content, RoomID: &roomID, MessageID: res.MessageID})

	s.bus.Publish(eventbus.TopicMessageSent, SentEvent{Content: content, RoomID: roomID, MessageID: res.MessageID})
	return res, nil
}

// CancelMessage cancels messageID and stops tracking it.
func (s *MessageService) CancelMessage(ctx context.Context, messageID string) (message.Result, error) {
	res, err := s.processor.Process(ctx, message.CancelRequest{MessageID: messageID})
	if err != nil {
		return res, err
	}
	s.RemoveFromProcessing(messageID)
	s.record(HistoryEntry{Type: message.TypeCancel, MessageID: messageID})
	s.bus.Publish(eventbus.TopicMessageCancelled, MessageEvent{MessageID: messageID})
	return res, nil
}

// RetryMessage retries messageID and tracks it again.
func (s *MessageService) RetryMessage(ctx context.Context, messageID string) (message.Result, error) {
	res, err := s.processor.Process(ctx, message.RetryRequest{MessageID: messageID})
	if err != nil {
		return res, err
	}
	s.track(messageID)
	s.record(HistoryEntry{Type: message.TypeRetry, MessageID: messageID})
	s.bus.Publish(eventbus.TopicMessageRetried, MessageEvent{MessageID: messageID})
	return res, nil
}

// ClearMessages clears every message of roomID.
func (s *MessageService) ClearMessages(ctx context.Context, roomID int64) (message.Result, error) {
	res, err := s.processor.Process(ctx, message.ClearRequest{RoomID: roomID})
	if err != nil {
		return res, err
	}
	s.record(HistoryEntry{Type: message.TypeClear, RoomID: &roomID})
	s.bus.Publish(eventbus.TopicMessagesCleared, ClearedEvent{RoomID: roomID, Messages: len(res.Messages)})
	return res, nil
}

// UndoLastCommand asks the processor to undo the newest recorded operation
// and drops it from the history. Only its content and room are forwarded.
//
// The entry leaves the history before the processor is called, so operations
// recorded meanwhile are kept and concurrent undos take distinct entries. If
// the processor fails the entry is pushed back as the newest one.
func (s *MessageService) UndoLastCommand(ctx context.Context) (message.Result, error) {
	last, ok := s.history.Pop()
	if !ok {
		return message.Result{}, apperr.State("No commands to undo")
	}
	res, err := s.processor.Process(ctx, message.UndoRequest{Content: last.Content, RoomID: last.RoomID})
	if err != nil {
		s.history.Push(last)
		return res, err
	}
	// only a reverted send stops a message; other entries keep running
	if last.Type == message.TypeSend && res.Success {
		id := res.MessageID
		if id == "" {
			id = last.MessageID
		}
		s.RemoveFromProcessing(id)
	}
	s.bus.Publish(eventbus.TopicCommandUndone, UndoneEvent{Type: last.Type, Content: last.Content, RoomID: last.RoomID, MessageID: last.MessageID})
	return res, nil
}

func (s *MessageService) record(e HistoryEntry) {
	e.Timestamp = time.Now().UnixMilli()
	s.history.Push(e)
}

// History returns the recorded operations, oldest first.
func (s *MessageService) History() []HistoryEntry {
	return s.history.Items()
}

// IsMessageProcessing reports whether messageID is in flight.
func (s *MessageService) IsMessageProcessing(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processing[messageID]
	return ok
}

// GetProcessingMessagesCount returns the number of in-flight messages.
func (s *MessageService) GetProcessingMessagesCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processing)
}

// track adds id to the processing set unless it already settled.
func (s *MessageService) track(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = without(s.removed, id)
	if i := slices.Index(s.settled, id); i >= 0 {
		s.settled = slices.Delete(s.settled, i, i+1)
		return
	}
	s.processing[id] = struct{}{}
}

// Settle removes messageID from the processing set once its processing has
// finished. A settle that arrives before the id is tracked is remembered, so
// a completion reported while SendMessage is still returning is not lost. A
// settle for an id already removed from processing is dropped.
func (s *MessageService) Settle(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processing[messageID]; ok {
		delete(s.processing, messageID)
		return
	}
	if slices.Contains(s.removed, messageID) {
		s.removed = without(s.removed, messageID)
		return
	}
	s.settled = appendCapped(s.settled, messageID)
}

// RemoveFromProcessing stops tracking messageID.
func (s *MessageService) RemoveFromProcessing(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processing[messageID]; !ok {
		return
	}
	delete(s.processing, messageID)
	s.removed = appendCapped(s.removed, messageID)
}

func appendCapped(ids []string, id string) []string {
	if len(ids) == maxSettled {
		ids = ids[1:]
	}
	return append(ids, id)
}

func without(ids []string, id string) []string {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}

// SettleOnFinished settles every message whose message.* event carries a
// Finished payload. It returns the subscription id.
func (s *MessageService) SettleOnFinished() string {
	return s.bus.Subscribe("message.*", func(e eventbus.Event) {
		if f, ok := e.Payload.(Finished); ok {
			s.Settle(f.FinishedMessageID())
		}
	})
}

// SubscribeToEvents registers cb for every message.* topic.
func (s *MessageService) SubscribeToEvents(cb eventbus.Handler) string {
	return s.bus.Subscribe("message.*", cb)
}

// UnsubscribeFromEvents removes a subscription made by SubscribeToEvents.
func (s *MessageService) UnsubscribeFromEvents(id string) bool {
	return s.bus.UnsubscribeByID(id)
}
