package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain error for callers that need to react to it
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
	KindPersistence ErrorKind = "persistence"
	KindExternal    ErrorKind = "external"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the cause error
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches two domain errors by code so wrapped and detailed variants
// of a sentinel still satisfy errors.Is.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func NewDomainError(kind ErrorKind, code, message string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message}
}

// Custom errors
var (
	ErrUserNotFound        = NewDomainError(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrAnomalyNotFound     = NewDomainError(KindNotFound, "ANOMALY_NOT_FOUND", "anomaly not found")
	ErrInvalidBaselineType = NewDomainError(KindValidation, "INVALID_BASELINE_TYPE", "invalid baseline type")
	ErrInvalidStatus       = NewDomainError(KindValidation, "INVALID_STATUS", "invalid anomaly status")
	ErrInvalidArgument     = NewDomainError(KindValidation, "INVALID_ARGUMENT", "invalid argument")
	ErrMissingField        = NewDomainError(KindValidation, "MISSING_FIELD", "missing required field")
	ErrConflict            = NewDomainError(KindConflict, "CONFLICT", "conflicting state")
	ErrPersistence         = NewDomainError(KindPersistence, "PERSISTENCE", "persistence failure")
	ErrUnknownProfile      = NewDomainError(KindValidation, "UNKNOWN_PROFILE_VERSION", "unsupported baseline profile version")
)

// WithDetail returns a copy of a sentinel carrying a more specific message.
func (e *DomainError) WithDetail(format string, args ...interface{}) *DomainError {
	return &DomainError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: fmt.Sprintf("%s: %s", e.Message, fmt.Sprintf(format, args...)),
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of a sentinel wrapping cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
		Cause:   cause,
	}
}

// KindOf reports the kind of err, or "" when err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
