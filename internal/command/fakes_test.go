package command

import (
	"context"
	"sync"
	"time"

	"github.com/comigor/chatcore/internal/message"
)

// mockProcessor records every request and answers through ProcessFunc when set.
type mockProcessor struct {
	mu          sync.Mutex
	requests    []message.Request
	ProcessFunc func(ctx context.Context, req message.Request) (message.Result, error)
}

func (m *mockProcessor) Process(ctx context.Context, req message.Request) (message.Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, req)
	}
	return message.Result{Success: true}, nil
}

func (m *mockProcessor) calls() []message.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]message.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

type mockSelector struct {
	current  string
	setCalls []string
	setErr   error
}

func (m *mockSelector) GetAvailableModels() []message.ModelOption {
	return []message.ModelOption{{Label: "GPT 3.5", Value: "gpt-3.5-turbo"}, {Label: "GPT 4", Value: "gpt-4"}}
}

func (m *mockSelector) GetCurrentModel() string { return m.current }

func (m *mockSelector) SetModel(_ context.Context, model string) error {
	m.setCalls = append(m.setCalls, model)
	if m.setErr != nil {
		return m.setErr
	}
	m.current = model
	return nil
}

func (m *mockSelector) GetModelForRoom(context.Context, int64) (string, error) {
	return m.current, nil
}

// stubCommand is a scriptable Command for manager tests.
type stubCommand struct {
	name       string
	executeErr error
	undoErr    error
	executes   int
	undos      int
	executed   bool
	undone     bool
	onExecute  func()
	onUndo     func()
}

func (s *stubCommand) Execute(context.Context) (message.Result, error) {
	s.executes++
	if s.onExecute != nil {
		s.onExecute()
	}
	if s.executeErr != nil {
		return message.Result{}, s.executeErr
	}
	s.executed, s.undone = true, false
	return message.Result{Success: true, MessageID: s.name}, nil
}

func (s *stubCommand) Undo(context.Context) (message.Result, error) {
	s.undos++
	if s.onUndo != nil {
		s.onUndo()
	}
	if s.undoErr != nil {
		return message.Result{}, s.undoErr
	}
	s.executed, s.undone = false, true
	return message.Result{Success: true}, nil
}

func (s *stubCommand) CanUndo() bool        { return true }
func (s *stubCommand) Description() string  { return "stub " + s.name }
func (s *stubCommand) ID() string           { return s.name }
func (s *stubCommand) IsExecuted() bool     { return s.executed }
func (s *stubCommand) IsUndone() bool       { return s.undone }
func (s *stubCommand) Timestamp() time.Time { return time.Time{} }

type guardedCommand struct {
	*stubCommand
	allowed bool
}

func (g guardedCommand) CanExecute() bool { return g.allowed }
