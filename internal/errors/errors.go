package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypePrecondition ErrorType = "PRECONDITION"
	ErrorTypeCorrupt      ErrorType = "CORRUPT"
	ErrorTypeInternal     ErrorType = "INTERNAL"
)

type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Forceable bool      `json:"forceable,omitempty"`
	Details   any       `json:"details,omitempty"`
	Err       error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: details,
	}
}

// Precondition reports a user precondition violation. Forceable ones may be
// overridden with --force.
func Precondition(message string, forceable bool) *Error {
	return &Error{
		Type:      ErrorTypePrecondition,
		Message:   message,
		Forceable: forceable,
	}
}

// Corrupt reports broken immutable history. These always abort.
func Corrupt(message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeCorrupt,
		Message: message,
		Err:     err,
	}
}

func Internal(message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an *Error of type t.
func Is(err error, t ErrorType) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// IsForceable reports whether err is a precondition that --force may override.
func IsForceable(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Type == ErrorTypePrecondition && e.Forceable
}
