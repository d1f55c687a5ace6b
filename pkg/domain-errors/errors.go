// Package domainerrors provides coded domain errors. Services return these so
// callers can branch on the class of failure without string matching, and the
// embedding UI can map codes onto user-facing guidance (retry vs. reset vs.
// correct input).
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeInvalidInput marks malformed or missing subject input. Local and
	// non-retryable without user correction.
	CodeInvalidInput Code = "invalid_input"
	// CodeRemote marks a transport or server failure on a provider call.
	// Retryable by re-invoking the same operation.
	CodeRemote Code = "remote"
	// CodeTimeout marks the collection hard ceiling being reached. Terminal;
	// only a full reset recovers.
	CodeTimeout Code = "timeout"
	// CodeUnauthorized marks an authoritative rejection of a session token.
	CodeUnauthorized Code = "unauthorized"
	// CodeNotFound marks a missing entity.
	CodeNotFound Code = "not_found"
	// CodeInvalidState marks an operation attempted from the wrong flow step.
	CodeInvalidState Code = "invalid_state"
	// CodeInternal marks everything else.
	CodeInternal Code = "internal"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err returns
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// GetCode extracts the code from an error chain. Uncoded errors report
// CodeInternal.
func GetCode(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
