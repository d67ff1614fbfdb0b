package app

import "errors"

// Error kinds. Every error returned by App wraps exactly one of them, so
// callers classify failures with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrWeakPassword         = errors.New("weak password")
	ErrDuplicateIdentity    = errors.New("duplicate identity")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAuthorizationDenied  = errors.New("authorization denied")
	ErrStorageFailure       = errors.New("storage failure")
	// ErrImagesDisabled indicates no object storage is configured.
	ErrImagesDisabled = errors.New("image storage disabled")
)

// Error pairs an error kind with a message safe to show to clients. Cause
// carries internal detail for logs only.
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

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// storageError hides cause behind an opaque message.
func storageError(op string, cause error) *Error {
	return &Error{Kind: ErrStorageFailure, Message: "internal error", Cause: errors.Join(errors.New(op), cause)}
}

// PublicMessage returns the client-facing text for err.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrAuthenticationFailed):
		return "Could not validate credentials"
	case errors.Is(err, ErrAuthorizationDenied):
		return "Admin access required"
	default:
		return "internal error"
	}
}
