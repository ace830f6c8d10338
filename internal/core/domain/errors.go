// Package domain defines the core domain models for authpersist.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
//
// Codes follow the format AP-<AREA>-<NNNN>, where the first digit of the
// numeric part gives the class (1 argument, 4 caller data, 5 system).
type DomainError struct {
	Code    string // Error code (e.g., "AP-REC-4001")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Persistence Errors (PERS)
// ============================================================================

var (
	// ErrStorageError indicates a backend read or write failed.
	ErrStorageError = NewDomainError("AP-PERS-5001", "storage error")

	// ErrMigrationFailed indicates the user record could not be written into
	// the newly selected backend.
	ErrMigrationFailed = NewDomainError("AP-PERS-5002", "persistence migration failed")

	// ErrBackendUnavailable indicates the backend failed its availability
	// probe or could not be opened.
	ErrBackendUnavailable = NewDomainError("AP-PERS-5031", "storage backend unavailable")

	// ErrBackendClosed indicates an operation on a backend after Close.
	ErrBackendClosed = NewDomainError("AP-PERS-5032", "storage backend closed")
)

// ============================================================================
// Record Errors (REC)
// ============================================================================

var (
	// ErrMalformedRecord indicates a stored user record failed to decode or
	// is missing required fields.
	ErrMalformedRecord = NewDomainError("AP-REC-4001", "malformed user record")

	// ErrMalformedValue indicates a value is not valid JSON text.
	ErrMalformedValue = NewDomainError("AP-REC-4002", "malformed stored value")
)

// ============================================================================
// Messaging Errors (MSG)
// ============================================================================

var (
	// ErrConnectionUnavailable indicates no message port is attached.
	ErrConnectionUnavailable = NewDomainError("AP-MSG-5030", "connection unavailable")

	// ErrUnsupportedEvent indicates the receiver did not acknowledge the
	// event within the ack window.
	ErrUnsupportedEvent = NewDomainError("AP-MSG-4040", "unsupported event")

	// ErrMessageTimeout indicates an acknowledged request did not complete
	// within the completion window.
	ErrMessageTimeout = NewDomainError("AP-MSG-5040", "timeout")

	// ErrInvalidResponse indicates a reply carried an unknown status.
	ErrInvalidResponse = NewDomainError("AP-MSG-5020", "invalid response")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("AP-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("AP-ARG-1002", "missing required argument")
)
