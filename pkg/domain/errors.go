package domain

import (
	"errors"
	"sort"
	"strings"
)

// Error taxonomy. Every error returned by the services matches exactly one of
// these with errors.Is.
var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrAuthenticationFailed = errors.New("unable to authenticate with provided credentials")
	ErrTokenExpired         = errors.New("token has expired")
	ErrServiceUnavailable   = errors.New("service unavailable")
	ErrPermissionDenied     = errors.New("permission denied")
)

// Not found errors
var (
	ErrAccountNotFound = &notFoundError{msg: "account not found"}
	ErrTokenNotFound   = &notFoundError{msg: "token not found"}
)

// Storage errors
var (
	// ErrTokenConflict is returned when a concurrent issuance for the same
	// (owner, purpose) won the race. The enclosing operation must be rerun.
	ErrTokenConflict = errors.New("token issuance conflict")
	// ErrEmailTaken is returned by stores when the unique email index rejects a write.
	ErrEmailTaken = errors.New("email already registered")
)

type notFoundError struct {
	msg string
}

func (e *notFoundError) Error() string { return e.msg }

func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError carries field-level messages for bad input.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns a ValidationError with a single field message.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Add records a message for field and returns the receiver.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
	return e
}

// HasErrors reports whether any field message was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
