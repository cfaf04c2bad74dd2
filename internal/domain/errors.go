package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code and message,
// so a sentinel still matches after WithCause attached a cause to it.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// WithCause returns a copy of the error carrying err as its cause.
func (e *DomainError) WithCause(err error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeUnavailable      = "UNAVAILABLE"
)

// Validation errors
var (
	ErrInvalidCorpusKey     = NewDomainError(ErrCodeValidation, "invalid corpus key")
	ErrEmptyCorpus          = NewDomainError(ErrCodeValidation, "corpus has no extractable text")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrIndexNotFound      = NewDomainError(ErrCodeNotFound, "corpus index not found")
	ErrBlobNotFound       = NewDomainError(ErrCodeNotFound, "blob not found")
	ErrRebuildJobNotFound = NewDomainError(ErrCodeNotFound, "rebuild job not found")
)

// Storage errors
var (
	ErrSerialization        = NewDomainError(ErrCodeInternalError, "corpus artifacts partially written")
	ErrStorageOperationFail = NewDomainError(ErrCodeInternalError, "storage operation failed")
)

// Operation errors
var (
	ErrRebuildQueueFull  = NewDomainError(ErrCodeUnavailable, "rebuild queue is full")
	ErrRebuildSuperseded = NewDomainError(ErrCodeInvalidOperation, "superseded by a newer rebuild request")
)
