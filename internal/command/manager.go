package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/comigor/chatcore/internal/apperr"
	"github.com/comigor/chatcore/internal/bounded"
	"github.com/comigor/chatcore/internal/logger"
	"github.com/comigor/chatcore/internal/message"
	"github.com/comigor/chatcore/internal/metrics"
)

// HistoryEntry records one execution attempt.
type HistoryEntry struct {
	CommandName   string    `json:"commandName"`
	Parameters    any       `json:"parameters,omitempty"`
	ExecutionTime int64     `json:"executionTime"` // milliseconds spent executing
	ExecutedAt    time.Time `json:"executedAt"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
}

// Step is one named invocation, used by the queue and by transactions.
type Step struct {
	CommandName string `json:"commandName"`
	Parameters  any    `json:"parameters,omitempty"`
}

type namedCommand struct {
	name   string
	params any
	cmd    Command
}

// Manager is a registry of named commands with execution history, undo/redo
// stacks, a bounded deferred queue and transactions. A Manager owns all of
// its state; independent managers do not interfere.
//
// Example:
//
//	m := command.NewManager(command.WithHistorySize(20))
//	send, _ := command.NewSendMessageCommand(processor, "hi", 42)
//	m.RegisterCommand("send", send)
//	_, err := m.ExecuteCommand(ctx, "send", nil)
type Manager struct {
	mu       sync.RWMutex
	commands map[string]Command

	stackMu sync.Mutex
	undo    []namedCommand
	redo    []namedCommand

	history *bounded.Buffer[HistoryEntry]
	queue   *bounded.Buffer[Step]
	logger  *slog.Logger
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	historySize int
	queueSize   int
	logger      *slog.Logger
}

// WithHistorySize caps the execution history. Non-positive values keep the default of 10.
func WithHistorySize(n int) Option {
	return func(o *managerOptions) {
		o.historySize = n
	}
}

// WithQueueSize caps the deferred queue. Non-positive values keep the default of 10.
func WithQueueSize(n int) Option {
	return func(o *managerOptions) {
		o.queueSize = n
	}
}

// WithLogger sets the manager's logger. If not set, logger.L is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *managerOptions) {
		o.logger = l
	}
}

// NewManager returns an empty manager.
func NewManager(opts ...Option) *Manager {
	o := managerOptions{
		historySize: bounded.DefaultCapacity,
		queueSize:   bounded.DefaultCapacity,
		logger:      logger.L,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		commands: make(map[string]Command),
		history:  bounded.New[HistoryEntry](o.historySize),
		queue:    bounded.New[Step](o.queueSize),
		logger:   o.logger,
	}
}

// RegisterCommand binds cmd to name, replacing any previous binding.
func (m *Manager) RegisterCommand(name string, cmd Command) error {
	if name == "" {
		return apperr.Registration("Command name is required")
	}
	if isNil(cmd) {
		return apperr.Registration("Invalid command: " + name)
	}
	m.mu.Lock()
	m.commands[name] = cmd
	m.mu.Unlock()
	return nil
}

// SubstituteCommand swaps the command bound to an already registered name.
// Callers of ExecuteCommand(name, ...) reach the new instance from then on;
// commands already on the undo or redo stack are unaffected.
func (m *Manager) SubstituteCommand(name string, cmd Command) error {
	if isNil(cmd) {
		return apperr.Registration("Invalid replacement command: " + name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.commands[name]; !ok {
		return apperr.State("Command not found: " + name)
	}
	m.commands[name] = cmd
	return nil
}

// GetCommand returns the command bound to name.
func (m *Manager) GetCommand(name string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cmd, ok := m.commands[name]
	return cmd, ok
}

// ExecuteCommand runs the command bound to name and records the attempt.
// params are kept in the history entry. On success the command is pushed
// onto the undo stack and the redo stack is cleared.
func (m *Manager) ExecuteCommand(ctx context.Context, name string, params any) (message.Result, error) {
	res, _, err := m.execute(ctx, name, params)
	return res, err
}

func (m *Manager) execute(ctx context.Context, name string, params any) (message.Result, Command, error) {
	cmd, ok := m.GetCommand(name)
	if !ok {
		return message.Result{}, nil, apperr.State("Command not found: " + name)
	}
	if g, ok := cmd.(Guard); ok && !g.CanExecute() {
		return message.Result{}, nil, apperr.State("Command cannot be executed")
	}

	res, err := m.run(ctx, name, params, cmd)
	if err != nil {
		return message.Result{}, nil, err
	}

	m.stackMu.Lock()
	m.undo = append(m.undo, namedCommand{name: name, params: params, cmd: cmd})
	m.redo = nil
	m.stackMu.Unlock()

	return res, cmd, nil
}

// run executes cmd and appends a history entry.
func (m *Manager) run(ctx context.Context, name string, params any, cmd Command) (message.Result, error) {
	start := time.Now()
	res, err := cmd.Execute(ctx)
	elapsed := time.Since(start)

	entry := HistoryEntry{
		CommandName:   name,
		Parameters:    params,
		ExecutionTime: elapsed.Milliseconds(),
		ExecutedAt:    start,
		Success:       err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
		m.logger.Warn("command failed", "command", name, "id", cmd.ID(), "elapsed", elapsed, "error", err)
	} else {
		m.logger.Debug("command executed", "command", name, "id", cmd.ID(), "elapsed", elapsed)
	}
	m.history.Push(entry)
	metrics.CommandsExecuted.WithLabelValues(name, metrics.Result(err == nil)).Inc()
	metrics.CommandDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	return res, err
}

// UndoLastCommand undoes the most recently executed command and makes it
// available to RedoLastCommand. If undo fails the command stays on the undo stack.
func (m *Manager) UndoLastCommand(ctx context.Context) (message.Result, error) {
	m.stackMu.Lock()
	if len(m.undo) == 0 {
		m.stackMu.Unlock()
		return message.Result{}, apperr.State("No commands to undo")
	}
	last := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]
	m.stackMu.Unlock()

	res, err := last.cmd.Undo(ctx)

	m.stackMu.Lock()
	defer m.stackMu.Unlock()
	if err != nil {
		m.undo = append(m.undo, last)
		return message.Result{}, err
	}
	m.redo = append(m.redo, last)
	return res, nil
}

// RedoLastCommand re-executes the most recently undone command.
func (m *Manager) RedoLastCommand(ctx context.Context) (message.Result, error) {
	m.stackMu.Lock()
	if len(m.redo) == 0 {
		m.stackMu.Unlock()
		return message.Result{}, apperr.State("No commands to redo")
	}
	last := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.stackMu.Unlock()

	res, err := m.run(ctx, last.name, last.params, last.cmd)

	m.stackMu.Lock()
	defer m.stackMu.Unlock()
	if err != nil {
		m.redo = append(m.redo, last)
		return message.Result{}, err
	}
	m.undo = append(m.undo, last)
	return res, nil
}

// CanUndo reports whether the undo stack is non-empty.
func (m *Manager) CanUndo() bool {
	m.stackMu.Lock()
	defer m.stackMu.Unlock()
	return len(m.undo) > 0
}

// CanRedo reports whether the redo stack is non-empty.
func (m *Manager) CanRedo() bool {
	m.stackMu.Lock()
	defer m.stackMu.Unlock()
	return len(m.redo) > 0
}

// QueueCommand defers an invocation. Once the queue is full the oldest
// entries are dropped.
func (m *Manager) QueueCommand(name string, params any) {
	if dropped := m.queue.Push(Step{CommandName: name, Parameters: params}); dropped > 0 {
		m.logger.Warn("command queue full, dropped oldest entries", "dropped", dropped, "capacity", m.queue.Cap())
	}
}

// ExecuteQueuedCommands drains the queue and executes every entry in FIFO
// order. A failing entry does not stop the others; the returned slice holds
// one result per entry and the error joins every failure.
func (m *Manager) ExecuteQueuedCommands(ctx context.Context) ([]message.Result, error) {
	steps := m.queue.Drain()
	results := make([]message.Result, len(steps))
	var errs []error
	for i, step := range steps {
		res, err := m.ExecuteCommand(ctx, step.CommandName, step.Parameters)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.CommandName, err))
			continue
		}
		results[i] = res
	}
	return results, errors.Join(errs...)
}

// ExecuteTransaction executes steps in order. When a step fails, every step
// that succeeded so far is undone in reverse order and the step's error is
// returned unchanged. Rolled back commands leave the undo stack and are not
// redoable.
func (m *Manager) ExecuteTransaction(ctx context.Context, steps []Step) ([]message.Result, error) {
	results := make([]message.Result, 0, len(steps))
	done := make([]Command, 0, len(steps))

	for _, step := range steps {
		res, cmd, err := m.execute(ctx, step.CommandName, step.Parameters)
		if err != nil {
			m.logger.Warn("transaction step failed, rolling back", "command", step.CommandName, "completed", len(done), "error", err)
			m.rollback(ctx, done)
			return nil, err
		}
		results = append(results, res)
		done = append(done, cmd)
	}
	return results, nil
}

func (m *Manager) rollback(ctx context.Context, done []Command) {
	for i := len(done) - 1; i >= 0; i-- {
		cmd := done[i]
		if _, err := cmd.Undo(ctx); err != nil {
			m.logger.Error("transaction rollback step failed", "id", cmd.ID(), "description", cmd.Description(), "error", err)
		}
		m.dropFromUndo(cmd)
	}
}

// dropFromUndo removes the newest undo stack entry holding cmd.
func (m *Manager) dropFromUndo(cmd Command) {
	m.stackMu.Lock()
	defer m.stackMu.Unlock()
	for i := len(m.undo) - 1; i >= 0; i-- {
		if m.undo[i].cmd == cmd {
			m.undo = append(m.undo[:i:i], m.undo[i+1:]...)
			return
		}
	}
}

// GetCommandHistory returns the recorded executions, oldest first.
func (m *Manager) GetCommandHistory() []HistoryEntry {
	return m.history.Items()
}

// ClearCommandHistory drops the execution history.
func (m *Manager) ClearCommandHistory() {
	m.history.Clear()
}

// GetCommandQueue returns the pending queue, oldest first.
func (m *Manager) GetCommandQueue() []Step {
	return m.queue.Items()
}

// ClearCommandQueue drops every pending entry.
func (m *Manager) ClearCommandQueue() {
	m.queue.Clear()
}
