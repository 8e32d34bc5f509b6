package core

import "fmt"

// Error is the coded error type shared by all nodelet packages.
//
// Two errors are considered equal by errors.Is when their codes match, so
// sentinels can be compared against wrapped instances that carry a cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so that wrapped copies of a sentinel still compare equal
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e carrying cause
func (e *Error) Wrap(cause error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: cause}
}

// Lifecycle errors
var (
	ErrAlreadyInitialized = &Error{Code: "ALREADY_INITIALIZED", Message: "nodelet already initialized, it cannot be reinitialized"}
	ErrNotInitialized     = &Error{Code: "NOT_INITIALIZED", Message: "nodelet is not initialized"}
	ErrInitFailed         = &Error{Code: "INIT_FAILED", Message: "nodelet initialization failed"}
	ErrOnInitFailed       = &Error{Code: "ON_INIT_FAILED", Message: "nodelet onInit hook failed"}
	ErrSpinnerStartFailed = &Error{Code: "SPINNER_START_FAILED", Message: "spinner failed to start"}
)

// Name errors
var (
	ErrInvalidName = &Error{Code: "INVALID_NAME", Message: "invalid graph resource name"}
)
