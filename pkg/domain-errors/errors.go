// Package domainerrors provides coded errors for the service's domain layer.
//
// Services attach a Code to every error they return; transport maps codes to
// HTTP statuses and stores stay code-free (they return sentinel errors that
// services translate). Import with the dErrors alias.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the class of a domain error. The string value is the wire
// format returned to clients, so codes are stable once published.
type Code string

const (
	// Request shape and input validation.
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"

	// AuthN/AuthZ.
	CodeUnauthorized     Code = "unauthorized"
	CodeForbidden        Code = "forbidden"
	CodeSignatureInvalid Code = "signature_invalid"

	// Resource state.
	CodeNotFound          Code = "not_found"
	CodeConflict          Code = "conflict"
	CodeAlreadyRegistered Code = "already_registered"
	CodeAlreadyVerified   Code = "already_verified"
	CodeAlreadyIssued     Code = "already_issued"
	CodeAlreadyConsumed   Code = "already_consumed"
	CodeNotVerified       Code = "not_verified"
	CodeExpired           Code = "expired"

	// Infrastructure and invariants.
	CodeUnavailable        Code = "unavailable"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"
	CodeIntegrity          Code = "integrity_violation"
	CodeInternal           Code = "internal_error"
)

// Error is a domain error carrying a stable code, an operator-facing message,
// and an optional wrapped cause.
type Error struct {
	code  Code
	msg   string
	cause error
}

// New creates a domain error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. The cause remains
// reachable through errors.Is/errors.As.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{code: code, msg: msg, cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the error's code.
func (e *Error) Code() Code { return e.code }

// Message returns the operator-facing message without the code prefix.
func (e *Error) Message() string { return e.msg }

// CodeOf extracts the code from an error chain. Non-domain errors report
// CodeInternal so accidental leaks fail safe at the transport layer.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.code == code
	}
	return false
}

// Is is an alias of HasCode kept for established call sites.
func Is(err error, code Code) bool { return HasCode(err, code) }

// IsConflict reports whether the error is any of the conflict-family codes.
// Conflicts are terminal for the request that hit them; callers must not
// retry them automatically.
func IsConflict(err error) bool {
	switch CodeOf(err) {
	case CodeConflict, CodeAlreadyRegistered, CodeAlreadyVerified, CodeAlreadyIssued, CodeAlreadyConsumed:
		return true
	}
	return false
}

// IsRetryable reports whether the error class may succeed on a later attempt.
// Only infrastructure unavailability and timeouts qualify; conflicts and
// integrity violations never do.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeTimeout:
		return true
	}
	return false
}
