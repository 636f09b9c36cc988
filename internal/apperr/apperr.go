// Package apperr defines the error kinds raised locally by the command core.
// Errors coming from a message processor or model selector are never wrapped
// into these kinds; they are returned as-is.
package apperr

import "errors"

// Kind classifies a local error.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindState        Kind = "state"
	KindRegistration Kind = "registration"
)

var (
	// ErrValidation matches any error raised for a missing collaborator or argument.
	ErrValidation = &Error{Kind: KindValidation}

	// ErrState matches any error raised for an operation invalid in the current state.
	ErrState = &Error{Kind: KindState}

	// ErrRegistration matches any error raised when registering an invalid command.
	ErrRegistration = &Error{Kind: KindRegistration}
)

// Error is a local error with a kind and a human readable message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind) + " error"
	}
	return e.Msg
}

// Is reports whether target is a kind sentinel of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Msg == "" && t.Kind == e.Kind
}

// Validation returns a validation error with msg.
func Validation(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// State returns a state error with msg.
func State(msg string) error {
	return &Error{Kind: KindState, Msg: msg}
}

// Registration returns a registration error with msg.
func Registration(msg string) error {
	return &Error{Kind: KindRegistration, Msg: msg}
}

// IsKind reports whether err is a local error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
