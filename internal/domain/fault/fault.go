// Package fault defines the error taxonomy shared by the order core.
//
// Every failure returned by a domain service carries one of four kinds.
// Transports map kinds to status codes with KindOf; callers branch with
// errors.Is against the kind sentinels (ErrValidation, ErrNotFound, ...).
package fault

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies a domain failure.
type Kind uint8

const (
	// Internal is any failure that is not a classified domain outcome.
	Internal Kind = iota
	// Validation means malformed or out-of-range input.
	Validation
	// NotFound means a referenced entity does not exist or is not visible to the caller.
	NotFound
	// Conflict means a uniqueness or stock constraint was violated.
	Conflict
	// State means an illegal order state transition was requested.
	State
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case State:
		return "state"
	default:
		return "internal"
	}
}

// Kind sentinels. Every *Error matches the sentinel of its kind under errors.Is.
var (
	ErrValidation = &Error{Kind: Validation, Message: "validation failed"}
	ErrNotFound   = &Error{Kind: NotFound, Message: "not found"}
	ErrConflict   = &Error{Kind: Conflict, Message: "conflict"}
	ErrState      = &Error{Kind: State, Message: "invalid state transition"}
)

// Error is a classified domain failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return isSentinel(t) && t.Kind == e.Kind
}

func isSentinel(e *Error) bool {
	return e == ErrValidation || e == ErrNotFound || e == ErrConflict || e == ErrState
}

// New returns a classified error.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(err error, kind Kind, op, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// Validationf returns a Validation error.
func Validationf(op, format string, args ...any) *Error {
	return New(Validation, op, format, args...)
}

// NotFoundf returns a NotFound error.
func NotFoundf(op, format string, args ...any) *Error {
	return New(NotFound, op, format, args...)
}

// Conflictf returns a Conflict error.
func Conflictf(op, format string, args ...any) *Error {
	return New(Conflict, op, format, args...)
}

// Statef returns a State error.
func Statef(op, format string, args ...any) *Error {
	return New(State, op, format, args...)
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Internal when none is present.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// MessageOf returns the message of the outermost classified error, or a
// generic text for unclassified failures so internals are not leaked.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "internal error"
}
