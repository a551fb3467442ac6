package secure

import (
	"errors"
	"fmt"
)

// ErrorType categorizes transport-security failures.
type ErrorType string

const (
	// Call-sequence and argument errors
	ErrorTypeBadArguments ErrorType = "bad_arguments"
	ErrorTypeNotOpen      ErrorType = "not_open"

	// Handshake and authorization errors
	ErrorTypeHandshakeFailure    ErrorType = "handshake_failure"
	ErrorTypeAuthorizationDenied ErrorType = "authorization_denied"

	// I/O and engine errors
	ErrorTypeIOFailure ErrorType = "io_failure"
	ErrorTypeInternal  ErrorType = "internal_error"

	// Configuration and certificate material errors
	ErrorTypeConfigValidation  ErrorType = "config_validation"
	ErrorTypeUnsupportedFormat ErrorType = "unsupported_format"
	ErrorTypeCertificateLoad   ErrorType = "certificate_load"
)

// SecurityError is the transport-security error surfaced to callers. Message
// carries the human-readable diagnostics drained from the session's
// diagnostic queue.
type SecurityError struct {
	Type    ErrorType
	Op      string
	Message string
	Cause   error
}

func (e *SecurityError) Error() string {
	msg := fmt.Sprintf("[%s] %s", string(e.Type), e.Op)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil && e.Message == "" {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As matching.
func (e *SecurityError) Unwrap() error {
	return e.Cause
}

func newSecurityError(t ErrorType, op, message string, cause error) *SecurityError {
	return &SecurityError{Type: t, Op: op, Message: message, Cause: cause}
}

func newBadArguments(op, message string) *SecurityError {
	return newSecurityError(ErrorTypeBadArguments, op, message, nil)
}

func newNotOpen(op string) *SecurityError {
	return newSecurityError(ErrorTypeNotOpen, op, "underlying connection is not open", nil)
}

// errorTypeOf extracts the category of err, or "" for foreign errors.
func errorTypeOf(err error) ErrorType {
	var se *SecurityError
	if errors.As(err, &se) {
		return se.Type
	}
	return ""
}

// IsBadArguments reports whether err is an invalid call-sequence or argument
// error.
func IsBadArguments(err error) bool {
	return errorTypeOf(err) == ErrorTypeBadArguments
}

// IsNotOpen reports whether err signals I/O attempted before the underlying
// connection was open.
func IsNotOpen(err error) bool {
	return errorTypeOf(err) == ErrorTypeNotOpen
}

// IsHandshakeFailure reports whether err comes from a failed handshake
// primitive.
func IsHandshakeFailure(err error) bool {
	return errorTypeOf(err) == ErrorTypeHandshakeFailure
}

// IsAuthorizationDenied reports whether err is a peer-authorization failure:
// chain verification, a missing required certificate, or a policy decision.
func IsAuthorizationDenied(err error) bool {
	return errorTypeOf(err) == ErrorTypeAuthorizationDenied
}

// IsIOFailure reports whether err is a non-retryable read/write/peek/flush
// failure.
func IsIOFailure(err error) bool {
	return errorTypeOf(err) == ErrorTypeIOFailure
}

// IsInternal reports whether err signals engine resource exhaustion.
func IsInternal(err error) bool {
	return errorTypeOf(err) == ErrorTypeInternal
}
