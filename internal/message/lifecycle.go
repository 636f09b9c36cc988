package message

import (
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/comigor/chatcore/internal/apperr"
)

// Status is a lifecycle state of a message.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Trigger moves a message from one status to another.
type Trigger string

const (
	TriggerStart    Trigger = "start"
	TriggerComplete Trigger = "complete"
	TriggerFail     Trigger = "fail"
	TriggerCancel   Trigger = "cancel"
	TriggerRetry    Trigger = "retry"
	TriggerResume   Trigger = "resume"
)

// Terminal reports whether no further progress happens without an explicit retry or resume.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func newLifecycle(from Status) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(from)

	fsm.Configure(StatusPending).
		Permit(TriggerStart, StatusProcessing).
		Permit(TriggerCancel, StatusCancelled)

	fsm.Configure(StatusProcessing).
		Permit(TriggerComplete, StatusCompleted).
		Permit(TriggerFail, StatusFailed).
		Permit(TriggerCancel, StatusCancelled)

	fsm.Configure(StatusFailed).
		Permit(TriggerRetry, StatusPending)

	// resume only makes sense for work that was stopped on purpose
	fsm.Configure(StatusCancelled).
		Permit(TriggerRetry, StatusPending).
		Permit(TriggerResume, StatusPending)

	fsm.Configure(StatusCompleted)

	return fsm
}

// Transition returns the status reached by firing trigger from status from.
// An illegal transition yields a state error.
func Transition(from Status, trigger Trigger) (Status, error) {
	fsm := newLifecycle(from)
	if err := fsm.Fire(trigger); err != nil {
		return from, apperr.State(fmt.Sprintf("cannot %s a %s message", trigger, from))
	}
	return fsm.MustState().(Status), nil
}
