package command

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/chatcore/internal/apperr"
	"github.com/comigor/chatcore/internal/message"
)

func TestConstructors_RequireCollaborator(t *testing.T) {
	var nilProcessor *mockProcessor

	_, err := NewSendMessageCommand(nil, "hi", 1)
	require.ErrorIs(t, err, apperr.ErrValidation)
	require.EqualError(t, err, "Message processor is required")

	_, err = NewSendMessageCommand(nilProcessor, "hi", 1)
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = NewCancelMessageCommand(nil, "m1")
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = NewRetryMessageCommand(nil, "m1")
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = NewClearMessagesCommand(nil, 1)
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = NewChangeModelCommand(nil, "gpt-4")
	require.ErrorIs(t, err, apperr.ErrValidation)
	require.EqualError(t, err, "Model selector is required")
}

func TestConstructors_ArePermissive(t *testing.T) {
	p := &mockProcessor{}

	send, err := NewSendMessageCommand(p, "", -5)
	require.NoError(t, err)
	_, err = send.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, message.SendRequest{ID: send.ID(), Content: "", RoomID: -5}, p.calls()[0])

	cancel, err := NewCancelMessageCommand(p, "")
	require.NoError(t, err)
	require.True(t, cancel.CanUndo())
	require.NotEmpty(t, cancel.ID())
	require.False(t, cancel.Timestamp().IsZero())
}

// allCommands builds one command of every kind against the same collaborators.
func allCommands(t *testing.T, p *mockProcessor, s *mockSelector) map[string]Command {
	t.Helper()
	send, err := NewSendMessageCommand(p, "Hello", 42)
	require.NoError(t, err)
	cancel, err := NewCancelMessageCommand(p, "m1")
	require.NoError(t, err)
	retry, err := NewRetryMessageCommand(p, "m1")
	require.NoError(t, err)
	clr, err := NewClearMessagesCommand(p, 42)
	require.NoError(t, err)
	change, err := NewChangeModelCommand(s, "gpt-4")
	require.NoError(t, err)
	return map[string]Command{"send": send, "cancel": cancel, "retry": retry, "clear": clr, "change": change}
}

func TestExecuteTwice_CallsCollaboratorOnce(t *testing.T) {
	p := &mockProcessor{}
	s := &mockSelector{current: "gpt-3.5-turbo"}
	for name, cmd := range allCommands(t, p, s) {
		t.Run(name, func(t *testing.T) {
			before := len(p.calls()) + len(s.setCalls)

			first, err := cmd.Execute(context.Background())
			require.NoError(t, err)
			second, err := cmd.Execute(context.Background())
			require.NoError(t, err)

			require.Equal(t, first, second)
			require.Equal(t, before+1, len(p.calls())+len(s.setCalls))
			require.True(t, cmd.IsExecuted())
			require.False(t, cmd.IsUndone())
		})
	}
}

func TestUndoBeforeExecute_IsStateError(t *testing.T) {
	p := &mockProcessor{}
	s := &mockSelector{current: "gpt-3.5-turbo"}
	for name, cmd := range allCommands(t, p, s) {
		t.Run(name, func(t *testing.T) {
			_, err := cmd.Undo(context.Background())
			require.ErrorIs(t, err, apperr.ErrState)
			require.EqualError(t, err, "Cannot undo command that has not been executed")
		})
	}
	require.Empty(t, p.calls())
	require.Empty(t, s.setCalls)
}

func TestUndoTwice_IsNoop(t *testing.T) {
	p := &mockProcessor{}
	s := &mockSelector{current: "gpt-3.5-turbo"}
	for name, cmd := range allCommands(t, p, s) {
		t.Run(name, func(t *testing.T) {
			_, err := cmd.Execute(context.Background())
			require.NoError(t, err)
			before := len(p.calls()) + len(s.setCalls)

			_, err = cmd.Undo(context.Background())
			require.NoError(t, err)
			_, err = cmd.Undo(context.Background())
			require.NoError(t, err)

			require.Equal(t, before+1, len(p.calls())+len(s.setCalls))
			require.True(t, cmd.IsUndone())
			require.False(t, cmd.IsExecuted())
		})
	}
}

func TestSendMessageCommand_Requests(t *testing.T) {
	p := &mockProcessor{}
	cmd, err := NewSendMessageCommand(p, "Hello", 42)
	require.NoError(t, err)
	require.Equal(t, "Send message to room 42", cmd.Description())

	_, err = cmd.Execute(context.Background())
	require.NoError(t, err)
	_, err = cmd.Undo(context.Background())
	require.NoError(t, err)

	content, room := "Hello", int64(42)
	require.Equal(t, []message.Request{
		message.SendRequest{ID: cmd.ID(), Content: "Hello", RoomID: 42},
		message.UndoRequest{Content: &content, RoomID: &room},
	}, p.calls())
}

func TestCancelMessageCommand_UndoResumes(t *testing.T) {
	p := &mockProcessor{}
	cmd, err := NewCancelMessageCommand(p, "m1")
	require.NoError(t, err)

	_, err = cmd.Execute(context.Background())
	require.NoError(t, err)
	_, err = cmd.Undo(context.Background())
	require.NoError(t, err)

	require.Equal(t, []message.Request{
		message.CancelRequest{MessageID: "m1"},
		message.ResumeRequest{MessageID: "m1"},
	}, p.calls())
}

func TestRetryMessageCommand_Count(t *testing.T) {
	p := &mockProcessor{}
	cmd, err := NewRetryMessageCommand(p, "m1")
	require.NoError(t, err)
	require.Zero(t, cmd.RetryCount())

	_, err = cmd.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, cmd.RetryCount())

	_, err = cmd.Undo(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, cmd.RetryCount())

	_, err = cmd.Undo(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, cmd.RetryCount())

	require.Equal(t, []message.Request{
		message.RetryRequest{MessageID: "m1"},
		message.CancelRequest{MessageID: "m1"},
	}, p.calls())
}

func TestRetryMessageCommand_FailureKeepsCount(t *testing.T) {
	boom := errors.New("backend down")
	p := &mockProcessor{ProcessFunc: func(context.Context, message.Request) (message.Result, error) {
		return message.Result{}, boom
	}}
	cmd, err := NewRetryMessageCommand(p, "m1")
	require.NoError(t, err)

	_, err = cmd.Execute(context.Background())
	require.ErrorIs(t, err, boom)
	require.Zero(t, cmd.RetryCount())
	require.False(t, cmd.IsExecuted())
}

func TestClearMessagesCommand_RestoresSnapshotInOrder(t *testing.T) {
	m1 := message.New("m1", "one", message.RoleUser, 7)
	m2 := message.New("m2", "two", message.RoleAssistant, 7)
	m3 := message.New("m3", "three", message.RoleUser, 7)

	p := &mockProcessor{ProcessFunc: func(_ context.Context, req message.Request) (message.Result, error) {
		if _, ok := req.(message.ClearRequest); ok {
			return message.Result{Success: true, Messages: []message.ConcurrentMessage{m1, m2, m3}}, nil
		}
		return message.Result{Success: true}, nil
	}}
	cmd, err := NewClearMessagesCommand(p, 7)
	require.NoError(t, err)

	_, err = cmd.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, cmd.Snapshot(), 3)

	_, err = cmd.Undo(context.Background())
	require.NoError(t, err)

	calls := p.calls()
	require.Len(t, calls, 2)
	require.Equal(t, message.ClearRequest{RoomID: 7}, calls[0])
	require.Equal(t, message.RestoreRequest{RoomID: 7, Messages: []message.ConcurrentMessage{m1, m2, m3}}, calls[1])
}

func TestChangeModelCommand_RoundTrip(t *testing.T) {
	s := &mockSelector{current: "gpt-3.5-turbo"}
	cmd, err := NewChangeModelCommand(s, "gpt-4")
	require.NoError(t, err)

	_, err = cmd.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, "gpt-4", s.current)
	require.Equal(t, "gpt-3.5-turbo", cmd.PreviousModel())

	_, err = cmd.Undo(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"gpt-4", "gpt-3.5-turbo"}, s.setCalls)
	require.Equal(t, "gpt-3.5-turbo", s.current)
}

func TestCollaboratorErrors_PropagateUnchanged(t *testing.T) {
	boom := errors.New("model unavailable")
	s := &mockSelector{current: "gpt-3.5-turbo", setErr: boom}
	cmd, err := NewChangeModelCommand(s, "gpt-4")
	require.NoError(t, err)

	_, err = cmd.Execute(context.Background())
	require.Same(t, boom, err)
	require.False(t, cmd.IsExecuted())

	// a failed execution leaves the command retryable
	s.setErr = nil
	_, err = cmd.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, cmd.IsExecuted())
}

func TestExecuteAfterUndo_RunsAgain(t *testing.T) {
	p := &mockProcessor{}
	cmd, err := NewCancelMessageCommand(p, "m1")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = cmd.Execute(context.Background())
		require.NoError(t, err)
		_, err = cmd.Undo(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, p.calls(), 4)
	require.Equal(t, StateUndone, cmd.State())
}

func TestConcurrentExecute_CallsCollaboratorOnce(t *testing.T) {
	p := &mockProcessor{}
	cmd, err := NewSendMessageCommand(p, "Hello", 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cmd.Execute(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Len(t, p.calls(), 1)
}
