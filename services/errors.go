package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeTransport     ErrorType = "transport"
	ErrorTypeStateMismatch ErrorType = "state_mismatch"
	ErrorTypeToken         ErrorType = "token"
	ErrorTypeIdentity      ErrorType = "identity"
	ErrorTypePersistence   ErrorType = "persistence"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeInternal      ErrorType = "internal"
)

// DomainError represents a structured error with additional context.
// Message is shown to clients; Err is only logged.
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

// Sentinels for errors.Is checks against a type
var (
	ErrConfiguration = NewDomainError(ErrorTypeConfiguration, "authentication not configured", nil)
	ErrTransport     = NewDomainError(ErrorTypeTransport, "identity provider unreachable", nil)
	ErrStateMismatch = NewDomainError(ErrorTypeStateMismatch, "invalid state parameter", nil)
	ErrToken         = NewDomainError(ErrorTypeToken, "invalid token", nil)
	ErrIdentity      = NewDomainError(ErrorTypeIdentity, "missing required user info", nil)
	ErrPersistence   = NewDomainError(ErrorTypePersistence, "failed to store user", nil)
	ErrUnauthorized  = NewDomainError(ErrorTypeUnauthorized, "authentication required", nil)
	ErrUserNotFound  = NewDomainError(ErrorTypeNotFound, "user not found", nil)
	ErrInvalidInput  = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// Error type checking helper functions

func hasType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsTransportError checks if an error is an identity provider transport failure
func IsTransportError(err error) bool { return hasType(err, ErrorTypeTransport) }

// IsStateMismatchError checks if an error is an authorization state mismatch
func IsStateMismatchError(err error) bool { return hasType(err, ErrorTypeStateMismatch) }

// IsTokenError checks if an error is a token verification failure
func IsTokenError(err error) bool { return hasType(err, ErrorTypeToken) }

// IsIdentityError checks if an error is a missing identity error
func IsIdentityError(err error) bool { return hasType(err, ErrorTypeIdentity) }

// IsPersistenceError checks if an error is a storage failure
func IsPersistenceError(err error) bool { return hasType(err, ErrorTypePersistence) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return hasType(err, ErrorTypeUnauthorized) }

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return hasType(err, ErrorTypeValidation) }

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool { return hasType(err, ErrorTypeConfiguration) }

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

// GetErrorMessage returns the client-safe message of a domain error
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}

// WrapTransport wraps an error as a transport error
func WrapTransport(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeTransport, message, err)
}

// WrapPersistence wraps an error as a persistence error
func WrapPersistence(message string, err error) *DomainError {
	return NewDomainError(ErrorTypePersistence, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, err)
}
