package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Credential and session errors (AUTH-001 to AUTH-099)
	ErrCodeDecodeFailure    ErrorCode = "AUTH-001"
	ErrCodeAuthExpired      ErrorCode = "AUTH-002"
	ErrCodeNotAuthenticated ErrorCode = "AUTH-003"
	ErrCodeAlreadyMounted   ErrorCode = "AUTH-004"

	// Backend response errors (API-001 to API-099)
	ErrCodeValidation         ErrorCode = "API-001"
	ErrCodeUnexpectedResponse ErrorCode = "API-002"
	ErrCodeContractViolation  ErrorCode = "API-003"

	// Transport errors (NET-001 to NET-099)
	ErrCodeNetwork ErrorCode = "NET-001"

	// Configuration errors (CFG-001 to CFG-099)
	ErrCodeConfigInvalid ErrorCode = "CFG-001"
	ErrCodeConfigLoad    ErrorCode = "CFG-002"

	// Credential store errors (STORE-001 to STORE-099)
	ErrCodeStoreRead  ErrorCode = "STORE-001"
	ErrCodeStoreWrite ErrorCode = "STORE-002"
)

// Sentinels for errors.Is. Any BodegaError with the same code matches.
var (
	ErrDecodeFailure    = &BodegaError{Code: ErrCodeDecodeFailure, Message: "credential could not be decoded"}
	ErrAuthExpired      = &BodegaError{Code: ErrCodeAuthExpired, Message: "session expired"}
	ErrNotAuthenticated = &BodegaError{Code: ErrCodeNotAuthenticated, Message: "not logged in"}
	ErrValidation       = &BodegaError{Code: ErrCodeValidation, Message: "request rejected"}
	ErrNetwork          = &BodegaError{Code: ErrCodeNetwork, Message: "network failure"}
)

// BodegaError represents an error with code, HTTP status, suggestions and cause
type BodegaError struct {
	Code        ErrorCode
	Message     string
	Status      int
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *BodegaError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *BodegaError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a BodegaError carrying the same code
func (e *BodegaError) Is(target error) bool {
	t, ok := target.(*BodegaError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new BodegaError
func New(code ErrorCode, message string) *BodegaError {
	return &BodegaError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new BodegaError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *BodegaError {
	return &BodegaError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *BodegaError) WithSuggestion(suggestion string) *BodegaError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *BodegaError) WithSuggestions(suggestions ...string) *BodegaError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithStatus records the HTTP status that produced the error
func (e *BodegaError) WithStatus(status int) *BodegaError {
	e.Status = status
	return e
}

// WithDocs adds a documentation URL to the error
func (e *BodegaError) WithDocs(url string) *BodegaError {
	e.DocsURL = url
	return e
}

// CodeOf returns the code of the first BodegaError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var be *BodegaError
	if stderrors.As(err, &be) {
		return be.Code
	}
	return ""
}

// NewDecodeFailure creates a credential decode error
func NewDecodeFailure(reason string, cause error) *BodegaError {
	return Wrap(ErrCodeDecodeFailure, fmt.Sprintf("credential could not be decoded: %s", reason), cause).
		WithSuggestion("Run 'bodega auth login' to obtain a fresh credential")
}

// NewAuthExpiredError creates the error returned when the backend rejects a credential
func NewAuthExpiredError(path string) *BodegaError {
	return New(ErrCodeAuthExpired, fmt.Sprintf("session expired or was rejected by the server (%s)", path)).
		WithStatus(401).
		WithSuggestion("Run 'bodega auth login' to sign in again")
}

// NewNotAuthenticatedError creates the error for commands that need a session
func NewNotAuthenticatedError() *BodegaError {
	return New(ErrCodeNotAuthenticated, "not logged in").
		WithSuggestion("Run 'bodega auth login' first")
}

// NewValidationError creates an error for a well-formed 4xx/5xx response
func NewValidationError(status int, message string) *BodegaError {
	return New(ErrCodeValidation, message).WithStatus(status)
}

// NewNetworkError creates a transport failure error
func NewNetworkError(op string, cause error) *BodegaError {
	return Wrap(ErrCodeNetwork, fmt.Sprintf("%s failed", op), cause).
		WithSuggestion("Check that the backend is reachable (bodega doctor)").
		WithSuggestion("Retry the operation")
}

// NewConfigInvalidError creates a configuration validation error
func NewConfigInvalidError(details string) *BodegaError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", details)).
		WithSuggestion("Run 'bodega config view' to inspect the effective configuration")
}

// NewStoreError creates a credential store error
func NewStoreError(code ErrorCode, op string, cause error) *BodegaError {
	return Wrap(code, fmt.Sprintf("credential store %s failed", op), cause)
}
