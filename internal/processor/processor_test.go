package processor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/chatcore/internal/apperr"
	"github.com/comigor/chatcore/internal/eventbus"
	"github.com/comigor/chatcore/internal/logger"
	"github.com/comigor/chatcore/internal/message"
	"github.com/comigor/chatcore/internal/store"
)

type mockLLM struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	reply    string
	err      error
	block    bool
	started  chan struct{}
}

func (m *mockLLM) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, r)
	m.mu.Unlock()
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.block {
		<-ctx.Done()
		return openai.ChatCompletionResponse{}, ctx.Err()
	}
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.reply}}},
	}, nil
}

func (m *mockLLM) seen() []openai.ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), m.requests...)
}

type fixedModel string

func (f fixedModel) GetModelForRoom(context.Context, int64) (string, error) { return string(f), nil }

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) handle(e eventbus.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Topic)
	}
	return out
}

func setup(t *testing.T, opts ...Option) (*Processor, *store.Store, *recorder) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "chat.db"), store.WithLogger(logger.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bus := eventbus.New(eventbus.WithLogger(logger.Discard()))
	rec := &recorder{}
	bus.Subscribe("*", rec.handle)

	opts = append([]Option{WithPublisher(bus), WithLogger(logger.Discard()), WithModels(fixedModel("gpt-4"))}, opts...)
	p, err := New(s, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, s, rec
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSend_CompletesWithReply(t *testing.T) {
	client := &mockLLM{reply: "Hi there"}
	p, s, rec := setup(t, WithLLM(client), WithSystemPrompt("Be brief."))
	ctx := context.Background()

	res, err := p.Process(ctx, message.SendRequest{ID: "m1", Content: "Hello", RoomID: 42})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "m1", res.MessageID)
	p.Wait()

	msgs, err := s.ListRoom(ctx, 42)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, message.StatusCompleted, msgs[0].Status)
	require.Equal(t, "gpt-4", msgs[0].Model)
	require.Equal(t, message.RoleAssistant, msgs[1].Role)
	require.Equal(t, "Hi there", msgs[1].Content)
	require.Equal(t, "m1", msgs[1].Metadata["replyTo"])

	reqs := client.seen()
	require.Len(t, reqs, 1)
	require.Equal(t, "gpt-4", reqs[0].Model)
	require.Equal(t, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "Be brief."},
		{Role: openai.ChatMessageRoleUser, Content: "Hello"},
	}, reqs[0].Messages)

	require.Equal(t, []string{eventbus.TopicMessageCompleted}, rec.topics())
}

func TestSend_GeneratesID(t *testing.T) {
	p, _, _ := setup(t)
	res, err := p.Process(context.Background(), message.SendRequest{Content: "x", RoomID: 1})
	require.NoError(t, err)
	require.NotEmpty(t, res.MessageID)
}

func TestSend_FailureMarksFailedAndRetryRecovers(t *testing.T) {
	client := &mockLLM{err: errors.New("rate limited"), reply: "ok"}
	p, s, rec := setup(t, WithLLM(client))
	ctx := context.Background()

	_, err := p.Process(ctx, message.SendRequest{ID: "m1", Content: "Hello", RoomID: 1})
	require.NoError(t, err)
	p.Wait()

	m, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, message.StatusFailed, m.Status)
	require.Equal(t, "rate limited", m.Error)

	client.mu.Lock()
	client.err = nil
	client.mu.Unlock()

	_, err = p.Process(ctx, message.RetryRequest{MessageID: "m1"})
	require.NoError(t, err)
	p.Wait()

	m, err = s.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, message.StatusCompleted, m.Status)
	require.Empty(t, m.Error)
	require.Equal(t, []string{eventbus.TopicMessageFailed, eventbus.TopicMessageCompleted}, rec.topics())
}

func TestCancel_StopsInFlightCompletion(t *testing.T) {
	client := &mockLLM{block: true, started: make(chan struct{}, 1)}
	p, s, rec := setup(t, WithLLM(client))
	ctx := context.Background()

	_, err := p.Process(ctx, message.SendRequest{ID: "m1", Content: "long question", RoomID: 1})
	require.NoError(t, err)
	<-client.started
	require.Equal(t, 1, p.InFlight())

	res, err := p.Process(ctx, message.CancelRequest{MessageID: "m1"})
	require.NoError(t, err)
	require.True(t, res.Success)
	p.Wait()

	m, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, message.StatusCancelled, m.Status)
	require.Zero(t, p.InFlight())
	require.Equal(t, []string{eventbus.TopicMessageStopped}, rec.topics())
}

func TestCancel_CompletedMessageIsStateError(t *testing.T) {
	p, _, _ := setup(t)
	ctx := context.Background()
	_, err := p.Process(ctx, message.SendRequest{ID: "m1", Content: "x", RoomID: 1})
	require.NoError(t, err)

	_, err = p.Process(ctx, message.CancelRequest{MessageID: "m1"})
	require.ErrorIs(t, err, apperr.ErrState)
}

func TestResume_RestartsCancelledMessage(t *testing.T) {
	p, s, _ := setup(t)
	ctx := context.Background()
	m := message.New("m1", "x", message.RoleUser, 1)
	m.Status = message.StatusCancelled
	require.NoError(t, s.Save(ctx, m))

	_, err := p.Process(ctx, message.ResumeRequest{MessageID: "m1"})
	require.NoError(t, err)

	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, message.StatusCompleted, got.Status)
}

func TestClearAndRestore(t *testing.T) {
	p, s, _ := setup(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := p.Process(ctx, message.SendRequest{ID: id, Content: id, RoomID: 5})
		require.NoError(t, err)
	}

	res, err := p.Process(ctx, message.ClearRequest{RoomID: 5})
	require.NoError(t, err)
	require.Len(t, res.Messages, 3)

	left, err := s.ListRoom(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, left)

	_, err = p.Process(ctx, message.RestoreRequest{RoomID: 5, Messages: res.Messages})
	require.NoError(t, err)
	restored, err := s.ListRoom(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, res.Messages, restored)
}

func TestClear_StopsInFlightAndPublishesStopped(t *testing.T) {
	client := &mockLLM{block: true, started: make(chan struct{}, 2)}
	p, _, rec := setup(t, WithLLM(client))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := p.Process(ctx, message.SendRequest{ID: id, Content: id, RoomID: 5})
		require.NoError(t, err)
		<-client.started
	}
	require.Equal(t, 2, p.InFlight())

	_, err := p.Process(ctx, message.ClearRequest{RoomID: 5})
	require.NoError(t, err)
	p.Wait()
	require.Zero(t, p.InFlight())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var stopped []string
	for _, e := range rec.events {
		require.Equal(t, eventbus.TopicMessageStopped, e.Topic)
		done := e.Payload.(CompletionEvent)
		require.Equal(t, int64(5), done.RoomID)
		stopped = append(stopped, done.MessageID)
	}
	require.Equal(t, []string{"a", "b"}, stopped)
}

func TestUndo_DeletesLastMatchingUserMessage(t *testing.T) {
	p, s, _ := setup(t)
	ctx := context.Background()
	_, err := p.Process(ctx, message.SendRequest{ID: "m1", Content: "Hello", RoomID: 42})
	require.NoError(t, err)

	content, room := "Hello", int64(42)
	res, err := p.Process(ctx, message.UndoRequest{Content: &content, RoomID: &room})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "m1", res.MessageID)

	_, err = s.Get(ctx, "m1")
	require.ErrorIs(t, err, store.ErrNotFound)

	res, err = p.Process(ctx, message.UndoRequest{Content: &content, RoomID: &room})
	require.NoError(t, err)
	require.False(t, res.Success)

	res, err = p.Process(ctx, message.UndoRequest{})
	require.NoError(t, err)
	require.False(t, res.Success)
}

func TestBuildPrompt_SkipsUnsettledMessages(t *testing.T) {
	client := &mockLLM{reply: "fine"}
	p, s, _ := setup(t, WithLLM(client))
	ctx := context.Background()

	failed := message.New("old", "broken", message.RoleUser, 3)
	failed.Status = message.StatusFailed
	failed.Timestamp = 1
	require.NoError(t, s.Save(ctx, failed))

	_, err := p.Process(ctx, message.SendRequest{ID: "m1", Content: "first", RoomID: 3})
	require.NoError(t, err)
	p.Wait()
	_, err = p.Process(ctx, message.SendRequest{ID: "m2", Content: "second", RoomID: 3})
	require.NoError(t, err)
	p.Wait()

	reqs := client.seen()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages
	require.Len(t, last, 4)
	require.Equal(t, "first", last[1].Content)
	require.Equal(t, "fine", last[2].Content)
	require.Equal(t, "second", last[3].Content)
}
