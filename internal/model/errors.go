package model

import "errors"

// Error kinds. Match with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state conflict")
	ErrTransport     = errors.New("transport error")
)

// Error carries a caller-facing message and one of the kinds above.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func NewValidationError(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func NewNotFoundError(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func NewStateConflictError(msg string) error {
	return &Error{Kind: ErrStateConflict, Message: msg}
}

func NewTransportError(msg string, cause error) error {
	return &Error{Kind: ErrTransport, Message: msg, Cause: cause}
}
