// Package command turns chat intents into reversible Command objects and runs
// them through a Manager that keeps history, undo/redo stacks, a deferred
// queue and transactions.
//
// Every command is single use. Execute on an executed command returns the
// cached result without calling the collaborator again; Undo on an undone
// command does nothing; Undo before Execute fails with a state error. An
// undone command may be executed again, which is how Manager implements redo.
// Calls on one command are serialized, so concurrent Execute calls still
// reach the collaborator once.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/comigor/chatcore/internal/apperr"
	"github.com/comigor/chatcore/internal/logger"
	"github.com/comigor/chatcore/internal/message"
)

// Command is one reversible user intent.
type Command interface {
	Execute(ctx context.Context) (message.Result, error)
	Undo(ctx context.Context) (message.Result, error)
	CanUndo() bool
	Description() string
	Timestamp() time.Time
	ID() string
	IsExecuted() bool
	IsUndone() bool
}

// Guard is implemented by commands that can refuse to run.
type Guard interface {
	CanExecute() bool
}

// State is the lifecycle position of a command.
type State string

const (
	StateCreated  State = "created"
	StateExecuted State = "executed"
	StateUndone   State = "undone"
)

type trigger string

const (
	triggerExecute trigger = "execute"
	triggerUndo    trigger = "undo"
)

const errNotExecuted = "Cannot undo command that has not been executed"

// lifecycle carries the identity and state shared by every command.
type lifecycle struct {
	id        string
	createdAt time.Time

	mu       sync.Mutex
	fsm      *stateless.StateMachine
	executed message.Result
	undone   message.Result
}

func newLifecycle() *lifecycle {
	fsm := stateless.NewStateMachine(StateCreated)
	fsm.Configure(StateCreated).
		Permit(triggerExecute, StateExecuted)
	fsm.Configure(StateExecuted).
		Permit(triggerUndo, StateUndone)
	fsm.Configure(StateUndone).
		Permit(triggerExecute, StateExecuted)

	return &lifecycle{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		fsm:       fsm,
	}
}

func (l *lifecycle) state() State {
	return l.fsm.MustState().(State)
}

// runExecute calls op unless the command is already executed, and records the
// transition only when op succeeds.
func (l *lifecycle) runExecute(ctx context.Context, desc string, op func(context.Context) (message.Result, error)) (message.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state() == StateExecuted {
		logger.L.Debug("command already executed", "command", desc, "id", l.id)
		return l.executed, nil
	}
	res, err := op(ctx)
	if err != nil {
		return message.Result{}, err
	}
	if err := l.fsm.FireCtx(ctx, triggerExecute); err != nil {
		return res, apperr.State(fmt.Sprintf("command %s: %v", l.id, err))
	}
	l.executed = res
	logger.L.Debug("command executed", "command", desc, "id", l.id)
	return res, nil
}

// runUndo calls op when the command is executed; it fails before the first
// execution and does nothing once undone.
func (l *lifecycle) runUndo(ctx context.Context, desc string, op func(context.Context) (message.Result, error)) (message.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state() {
	case StateCreated:
		return message.Result{}, apperr.State(errNotExecuted)
	case StateUndone:
		return l.undone, nil
	}
	res, err := op(ctx)
	if err != nil {
		return message.Result{}, err
	}
	if err := l.fsm.FireCtx(ctx, triggerUndo); err != nil {
		return res, apperr.State(fmt.Sprintf("command %s: %v", l.id, err))
	}
	l.undone = res
	logger.L.Debug("command undone", "command", desc, "id", l.id)
	return res, nil
}

func (l *lifecycle) ID() string           { return l.id }
func (l *lifecycle) Timestamp() time.Time { return l.createdAt }
func (l *lifecycle) CanUndo() bool        { return true }

// State returns the current lifecycle state.
func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state()
}

func (l *lifecycle) IsExecuted() bool { return l.State() == StateExecuted }
func (l *lifecycle) IsUndone() bool   { return l.State() == StateUndone }
