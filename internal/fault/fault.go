// Package fault defines the error taxonomy shared by the governance core.
//
// Conflicts and invalid-state errors must reach the caller unchanged so a
// human can re-propose or re-request; only transient storage errors are
// retried internally. Callers branch on Code, not on message text.
package fault

import (
	"errors"
	"fmt"
)

const (
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidBase        = "INVALID_BASE"
	CodeStaleBase          = "STALE_BASE"
	CodeConflict           = "CONFLICT"
	CodeInvalidState       = "INVALID_STATE"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeBusy               = "BUSY"
	CodeInvalidInput       = "INVALID_INPUT"
)

type DomainError struct {
	Code    string
	Message string
	Details any
	Cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func New(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func Newf(code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code, message string, cause error) *DomainError {
	return &DomainError{Code: code, Message: message, Cause: cause}
}

// Code extracts the machine code from err, or "" if err carries none.
func Code(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func IsCode(err error, code string) bool {
	return Code(err) == code
}

// Retryable reports whether the caller may usefully retry the operation.
// Conflicts and invalid transitions are never retryable; they require a
// human decision first.
func Retryable(err error) bool {
	switch Code(err) {
	case CodeStorageUnavailable, CodeBusy:
		return true
	}
	return false
}
