// Package processor is a message.Processor backed by the sqlite store and an
// OpenAI compatible completion client.
//
// A send persists the user message and starts a completion in the background;
// the request returns as soon as the message is processing. Each completion
// runs under its own cancellable context so cancel stops exactly one message.
// When a completion finishes, message.completed or message.failed is published.
// A completion stopped by cancel, clear or undo publishes message.stopped.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatcore/internal/apperr"
	"github.com/comigor/chatcore/internal/eventbus"
	"github.com/comigor/chatcore/internal/llm"
	"github.com/comigor/chatcore/internal/logger"
	"github.com/comigor/chatcore/internal/message"
	"github.com/comigor/chatcore/internal/metrics"
)

const defaultSystemPrompt = "You are a helpful AI assistant. Please respond to the user's request accurately and concisely."

// Store is the persistence the processor needs.
type Store interface {
	Save(ctx context.Context, m message.ConcurrentMessage) error
	ListRoom(ctx context.Context, roomID int64) ([]message.ConcurrentMessage, error)
	Transition(ctx context.Context, id string, trigger message.Trigger, errMsg string) (message.ConcurrentMessage, error)
	ClearRoom(ctx context.Context, roomID int64) ([]message.ConcurrentMessage, error)
	Restore(ctx context.Context, msgs []message.ConcurrentMessage) error
	DeleteLastUserMessage(ctx context.Context, roomID int64, content string) (string, error)
}

// ModelResolver picks the model used for a room.
type ModelResolver interface {
	GetModelForRoom(ctx context.Context, roomID int64) (string, error)
}

// Publisher receives completion events.
type Publisher interface {
	Publish(topic string, payload any)
}

// CompletionEvent is the payload of message.completed, message.failed and
// message.stopped.
type CompletionEvent struct {
	MessageID string `json:"messageId"`
	ReplyID   string `json:"replyId,omitempty"`
	RoomID    int64  `json:"roomId"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FinishedMessageID returns the id of the message whose processing ended.
func (e CompletionEvent) FinishedMessageID() string { return e.MessageID }

// Processor executes chat requests. It is safe for concurrent use.
type Processor struct {
	store        Store
	client       llm.Client
	models       ModelResolver
	publisher    Publisher
	systemPrompt string
	logger       *slog.Logger

	mu       sync.Mutex
	inflight map[string]*run
	wg       sync.WaitGroup
}

// run is one in-flight completion.
type run struct {
	cancel context.CancelFunc
}

// Option configures a Processor.
type Option func(*Processor)

// WithLLM sets the completion client. Without one, messages complete
// immediately with no reply.
func WithLLM(c llm.Client) Option {
	return func(p *Processor) {
		p.client = c
	}
}

// WithModels sets how the model for a room is chosen.
func WithModels(m ModelResolver) Option {
	return func(p *Processor) {
		p.models = m
	}
}

// WithPublisher sets where completion events go.
func WithPublisher(pub Publisher) Option {
	return func(p *Processor) {
		p.publisher = pub
	}
}

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(p *Processor) {
		if prompt != "" {
			p.systemPrompt = prompt
		}
	}
}

// WithLogger sets the processor's logger. If not set, logger.L is used.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = l
	}
}

// New returns a processor over store.
func New(store Store, opts ...Option) (*Processor, error) {
	if store == nil {
		return nil, apperr.Validation("Message store is required")
	}
	p := &Processor{
		store:        store,
		systemPrompt: defaultSystemPrompt,
		logger:       logger.L,
		inflight:     make(map[string]*run),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process implements message.Processor.
func (p *Processor) Process(ctx context.Context, req message.Request) (message.Result, error) {
	switch r := req.(type) {
	case message.SendRequest:
		return p.send(ctx, r)
	case message.CancelRequest:
		stopped := p.stop(r.MessageID)
		m, err := p.store.Transition(ctx, r.MessageID, message.TriggerCancel, "")
		if err != nil {
			return message.Result{}, err
		}
		if stopped {
			p.publishStopped(m)
		}
		return message.Result{MessageID: r.MessageID, Success: true}, nil
	case message.RetryRequest:
		return p.rerun(ctx, r.MessageID, message.TriggerRetry)
	case message.ResumeRequest:
		return p.rerun(ctx, r.MessageID, message.TriggerResume)
	case message.ClearRequest:
		msgs, err := p.store.ClearRoom(ctx, r.RoomID)
		if err != nil {
			return message.Result{}, err
		}
		for _, m := range msgs {
			if p.stop(m.ID) {
				p.publishStopped(m)
			}
		}
		return message.Result{Messages: msgs, Success: true}, nil
	case message.RestoreRequest:
		if err := p.store.Restore(ctx, r.Messages); err != nil {
			return message.Result{}, err
		}
		return message.Result{Messages: r.Messages, Success: true}, nil
	case message.UndoRequest:
		return p.undo(ctx, r)
	default:
		return message.Result{}, fmt.Errorf("unsupported request type %T", req)
	}
}

func (p *Processor) send(ctx context.Context, r message.SendRequest) (message.Result, error) {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	m := message.New(id, r.Content, message.RoleUser, r.RoomID)
	if p.models != nil {
		model, err := p.models.GetModelForRoom(ctx, r.RoomID)
		if err != nil {
			return message.Result{}, err
		}
		m.Model = model
	}
	if err := p.store.Save(ctx, m); err != nil {
		return message.Result{}, err
	}
	if err := p.start(ctx, m.ID); err != nil {
		return message.Result{}, err
	}
	return message.Result{MessageID: id, Success: true}, nil
}

// rerun moves a message back to pending and starts it again.
func (p *Processor) rerun(ctx context.Context, id string, trigger message.Trigger) (message.Result, error) {
	if _, err := p.store.Transition(ctx, id, trigger, ""); err != nil {
		return message.Result{}, err
	}
	if err := p.start(ctx, id); err != nil {
		return message.Result{}, err
	}
	return message.Result{MessageID: id, Success: true}, nil
}

func (p *Processor) undo(ctx context.Context, r message.UndoRequest) (message.Result, error) {
	if r.Content == nil || r.RoomID == nil {
		return message.Result{Success: false, Error: "nothing to undo"}, nil
	}
	id, err := p.store.DeleteLastUserMessage(ctx, *r.RoomID, *r.Content)
	if err != nil {
		return message.Result{}, err
	}
	if id == "" {
		return message.Result{Success: false, Error: "no matching message"}, nil
	}
	if p.stop(id) {
		p.publish(eventbus.TopicMessageStopped, CompletionEvent{MessageID: id, RoomID: *r.RoomID})
	}
	return message.Result{MessageID: id, Success: true}, nil
}

// start marks the message processing and launches its completion.
func (p *Processor) start(ctx context.Context, id string) error {
	m, err := p.store.Transition(ctx, id, message.TriggerStart, "")
	if err != nil {
		return err
	}
	room, _ := m.Room()

	if p.client == nil {
		if _, err := p.store.Transition(ctx, id, message.TriggerComplete, ""); err != nil {
			return err
		}
		p.publish(eventbus.TopicMessageCompleted, CompletionEvent{MessageID: id, RoomID: room, Model: m.Model})
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{cancel: cancel}
	p.mu.Lock()
	if prev, ok := p.inflight[id]; ok {
		prev.cancel()
	}
	p.inflight[id] = r
	p.mu.Unlock()

	p.wg.Add(1)
	metrics.InFlightCompletions.Inc()
	go p.complete(runCtx, r, m)
	return nil
}

func (p *Processor) complete(ctx context.Context, r *run, m message.ConcurrentMessage) {
	defer p.wg.Done()
	defer metrics.InFlightCompletions.Dec()
	defer p.forget(m.ID, r)

	room, _ := m.Room()
	messages, err := p.buildPrompt(ctx, room, m.ID)
	if err != nil {
		p.fail(m, room, err)
		return
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    m.Model,
		Messages: messages,
	})
	metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	if ctx.Err() != nil {
		metrics.Completions.WithLabelValues("cancelled").Inc()
		p.logger.Debug("completion stopped", "id", m.ID, "reason", ctx.Err())
		return
	}
	if err != nil {
		p.fail(m, room, err)
		return
	}
	if len(resp.Choices) == 0 {
		p.fail(m, room, errors.New("completion returned no choices"))
		return
	}

	reply := message.New(uuid.NewString(), resp.Choices[0].Message.Content, message.RoleAssistant, room)
	reply.Model = m.Model
	reply.Status = message.StatusCompleted
	reply.Metadata = map[string]any{"replyTo": m.ID}
	if err := p.store.Save(ctx, reply); err != nil {
		p.fail(m, room, err)
		return
	}
	if _, err := p.store.Transition(ctx, m.ID, message.TriggerComplete, ""); err != nil {
		p.logger.Warn("could not complete message", "id", m.ID, "error", err)
		return
	}
	metrics.Completions.WithLabelValues("completed").Inc()
	p.logger.Debug("completion finished", "id", m.ID, "reply", reply.ID, "model", m.Model)
	p.publish(eventbus.TopicMessageCompleted, CompletionEvent{MessageID: m.ID, ReplyID: reply.ID, RoomID: room, Model: m.Model})
}

func (p *Processor) fail(m message.ConcurrentMessage, room int64, cause error) {
	metrics.Completions.WithLabelValues("failed").Inc()
	p.logger.Error("completion failed", "id", m.ID, "error", cause)
	if _, err := p.store.Transition(context.Background(), m.ID, message.TriggerFail, cause.Error()); err != nil {
		p.logger.Warn("could not mark message failed", "id", m.ID, "error", err)
		return
	}
	p.publish(eventbus.TopicMessageFailed, CompletionEvent{MessageID: m.ID, RoomID: room, Model: m.Model, Error: cause.Error()})
}

// buildPrompt returns the system prompt followed by the settled conversation
// of the room and the message being completed.
func (p *Processor) buildPrompt(ctx context.Context, room int64, currentID string) ([]openai.ChatCompletionMessage, error) {
	history, err := p.store.ListRoom(ctx, room)
	if err != nil {
		return nil, err
	}

	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	var system strings.Builder
	system.WriteString(p.systemPrompt)
	for _, h := range history {
		if h.Role == message.RoleSystem && h.Status == message.StatusCompleted {
			system.WriteString("\n\n")
			system.WriteString(h.Content)
		}
	}
	out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system.String()})

	for _, h := range history {
		if h.ID != currentID && h.Status != message.StatusCompleted {
			continue
		}
		switch h.Role {
		case message.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: h.Content})
		case message.RoleAssistant:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: h.Content})
		}
	}
	return out, nil
}

// stop cancels the completion of id and reports whether one was running.
func (p *Processor) stop(id string) bool {
	p.mu.Lock()
	r, ok := p.inflight[id]
	delete(p.inflight, id)
	p.mu.Unlock()
	if ok {
		r.cancel()
	}
	return ok
}

func (p *Processor) publishStopped(m message.ConcurrentMessage) {
	room, _ := m.Room()
	p.publish(eventbus.TopicMessageStopped, CompletionEvent{MessageID: m.ID, RoomID: room, Model: m.Model})
}

// forget drops the in-flight entry for id if it still belongs to r.
func (p *Processor) forget(id string, r *run) {
	r.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[id] == r {
		delete(p.inflight, id)
	}
}

func (p *Processor) publish(topic string, payload any) {
	if p.publisher != nil {
		p.publisher.Publish(topic, payload)
	}
}

// InFlight returns the number of running completions.
func (p *Processor) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// Wait blocks until every running completion has finished.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Close cancels every running completion and waits for them.
func (p *Processor) Close() {
	p.mu.Lock()
	for id, r := range p.inflight {
		r.cancel()
		delete(p.inflight, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
