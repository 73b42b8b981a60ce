package auth

import "errors"

var (
	// ErrInvalidCredential is returned for any failed email/password check.
	// Callers cannot tell an unknown email from a wrong password.
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrUnauthorized      = errors.New("auth: unauthorized")
	ErrForbidden         = errors.New("auth: forbidden")
	ErrConflict          = errors.New("auth: conflict")
	ErrNotFound          = errors.New("auth: not found")
	ErrInvalidInput      = errors.New("auth: invalid input")
)

// Error attaches a caller-facing message to one of the sentinel errors above.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Kind.Error() + ": " + e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Message returns the caller-facing message carried by err, if any.
func Message(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message, true
	}
	return "", false
}
