package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeSinkUnavailable ErrorType = "sink_unavailable"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeMalformed       ErrorType = "malformed"
	ErrorTypeUnavailable     ErrorType = "unavailable"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeForbidden       ErrorType = "forbidden"
	ErrorTypeInternal        ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables.
// These are sentinels for errors.Is; wrap them with NewDomainError instead of
// calling WithDetail on the shared values.

var (
	// Recorder errors
	ErrSinkUnavailable = NewDomainError(ErrorTypeSinkUnavailable, "audit sink unavailable", nil)
	ErrAppendPending   = NewDomainError(ErrorTypeSinkUnavailable, "previous audit append still unresolved", nil)
	ErrAppendTimeout   = NewDomainError(ErrorTypeTimeout, "audit sink did not acknowledge in time", nil)
	ErrMalformedEvent  = NewDomainError(ErrorTypeMalformed, "malformed audit event", nil)
	ErrRecorderClosed  = NewDomainError(ErrorTypeUnavailable, "audit recorder closed", nil)

	// Storage errors
	ErrRecordExists = NewDomainError(ErrorTypeConflict, "audit sequence already stored", nil)

	// Dispatcher errors
	ErrQueueFull            = NewDomainError(ErrorTypeUnavailable, "audit event buffer full", nil)
	ErrDispatcherNotStarted = NewDomainError(ErrorTypeUnavailable, "audit dispatcher not started", nil)
	ErrDispatcherStopped    = NewDomainError(ErrorTypeUnavailable, "audit dispatcher stopped", nil)

	// Read API errors
	ErrRecordNotFound   = NewDomainError(ErrorTypeNotFound, "audit record not found", nil)
	ErrQueryUnsupported = NewDomainError(ErrorTypeUnavailable, "configured audit sink is not queryable", nil)
	ErrInvalidInput     = NewDomainError(ErrorTypeValidation, "invalid input", nil)

	// Authorization errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)
	ErrForbidden    = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	// Internal errors
	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// Error type checking helper functions

func hasType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsSinkUnavailableError checks if the sink rejected or could not be reached
func IsSinkUnavailableError(err error) bool {
	return hasType(err, ErrorTypeSinkUnavailable)
}

// IsTimeoutError checks if the sink did not acknowledge within the bound
func IsTimeoutError(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

// IsMalformedError checks if an event was rejected as malformed
func IsMalformedError(err error) bool {
	return hasType(err, ErrorTypeMalformed)
}

// IsUnavailableError checks if a component was not ready to accept work
func IsUnavailableError(err error) bool {
	return hasType(err, ErrorTypeUnavailable)
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsConflictError checks if a record with the same identity is already stored
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return hasType(err, ErrorTypeUnauthorized)
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return hasType(err, ErrorTypeForbidden)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapSinkUnavailable wraps a sink failure
func WrapSinkUnavailable(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeSinkUnavailable, message, err)
}
