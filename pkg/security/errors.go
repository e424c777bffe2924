package security

import (
	"errors"
	"fmt"
)

// ErrorType classifies engine errors for callers that branch on failure mode
type ErrorType string

const (
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeInvalidContext   ErrorType = "invalid_context"
	ErrorTypeAlreadyFinalized ErrorType = "already_finalized"
	ErrorTypeConfiguration    ErrorType = "configuration_error"
	ErrorTypeUnauthorized     ErrorType = "unauthorized"
	ErrorTypeStorage          ErrorType = "storage_error"
)

// Sentinel errors for errors.Is checks
var (
	ErrNotFound         = errors.New("security: not found")
	ErrInvalidContext   = errors.New("security: required context missing")
	ErrAlreadyFinalized = errors.New("security: request already finalized")
	ErrConfiguration    = errors.New("security: invalid configuration")
	ErrUnauthorized     = errors.New("security: unauthorized")
)

// Error is an engine error with enough context for audit and API responses.
// Evaluation-path errors never escape the orchestrator boundary; they resolve
// to a denied EvaluationResult instead.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	UserID  string    `json:"user_id,omitempty"`
	Subject string    `json:"subject,omitempty"`
	Cause   error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Type {
	case ErrorTypeNotFound:
		return ErrNotFound
	case ErrorTypeInvalidContext:
		return ErrInvalidContext
	case ErrorTypeAlreadyFinalized:
		return ErrAlreadyFinalized
	case ErrorTypeConfiguration:
		return ErrConfiguration
	case ErrorTypeUnauthorized:
		return ErrUnauthorized
	}
	return nil
}

// Is lets errors.Is match both wrapped causes and the type's sentinel
func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

// NewError creates an engine error of the given type
func NewError(errorType ErrorType, format string, args ...any) *Error {
	return &Error{Type: errorType, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an engine error around an underlying cause
func WrapError(errorType ErrorType, cause error, format string, args ...any) *Error {
	return &Error{Type: errorType, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithSubject attaches the entity the error refers to (role, permission,
// request id)
func (e *Error) WithSubject(subject string) *Error {
	e.Subject = subject
	return e
}

// WithUser attaches the acting user
func (e *Error) WithUser(userID string) *Error {
	e.UserID = userID
	return e
}
