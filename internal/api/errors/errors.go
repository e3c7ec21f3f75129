// Package errors provides structured error types and response helpers for the API.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/narvanalabs/keyrelay/internal/auth"
	"github.com/narvanalabs/keyrelay/internal/store"
)

// Error codes for structured API responses.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenMalformed     = "TOKEN_MALFORMED"
	CodeDuplicateName      = "DUPLICATE_NAME"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
	CodeRelayFailed        = "RELAY_FAILED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Response is the envelope shared by every JSON body the API writes.
type Response struct {
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	Code      string         `json:"code,omitempty"`
	Content   any            `json:"content,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// APIError represents a structured API error response.
type APIError struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]any
	RequestID string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MarshalJSON renders the error in the response envelope.
func (e *APIError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Envelope())
}

// Envelope returns the error as a Response.
func (e *APIError) Envelope() Response {
	return Response{
		Message:   e.Message,
		Status:    e.HTTPStatusCode(),
		Code:      e.Code,
		Details:   e.Details,
		RequestID: e.RequestID,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details map[string]any) *APIError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithRequestID returns a copy of the error with the request ID set.
func (e *APIError) WithRequestID(requestID string) *APIError {
	cp := *e
	cp.RequestID = requestID
	return &cp
}

// New creates a new APIError with the given code and message.
func New(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *APIError {
	return New(CodeValidationError, message)
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(message string) *APIError {
	return New(CodeUnauthorized, message)
}

// NewForbiddenError creates a forbidden error.
func NewForbiddenError(message string) *APIError {
	return New(CodeForbidden, message)
}

// NewInternalError creates an internal server error.
func NewInternalError(message string) *APIError {
	return New(CodeInternalError, message)
}

// NewRateLimitedError creates a rate limit error.
func NewRateLimitedError(message string) *APIError {
	return New(CodeRateLimited, message)
}

// NewRelayError creates an error for a failed upstream relay.
func NewRelayError(message string) *APIError {
	return New(CodeRelayFailed, message)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *APIError) HTTPStatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Code {
	case CodeValidationError, CodeDuplicateName, CodeNotFound:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeInvalidCredentials, CodeTokenExpired, CodeTokenMalformed:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeRelayFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromError maps a domain error onto an APIError. Unrecognised errors become
// an internal error whose message does not leak the cause.
func FromError(err error) *APIError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	var verr *auth.ValidationError
	if stderrors.As(err, &verr) {
		return AddFieldError(verr.Field, verr.Error()).ToAPIError()
	}

	var verrs ValidationErrors
	if stderrors.As(err, &verrs) {
		return verrs.ToAPIError()
	}

	switch {
	case stderrors.Is(err, auth.ErrUnauthenticated):
		return New(CodeUnauthorized, auth.ErrUnauthenticated.Error())
	case stderrors.Is(err, auth.ErrForbidden):
		return New(CodeForbidden, auth.ErrForbidden.Error())
	case stderrors.Is(err, auth.ErrInvalidCredentials):
		return New(CodeInvalidCredentials, "invalid credentials")
	case stderrors.Is(err, auth.ErrExpiredToken):
		return New(CodeTokenExpired, "not authenticated: token has expired")
	case stderrors.Is(err, auth.ErrMalformedToken):
		return New(CodeTokenMalformed, "not authenticated: malformed token")
	case stderrors.Is(err, store.ErrDuplicateName):
		return New(CodeDuplicateName, "account already exists")
	case stderrors.Is(err, store.ErrNotFound):
		return New(CodeNotFound, "account does not exist")
	default:
		return NewInternalError("internal server error")
	}
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes an APIError as a JSON response.
func WriteError(w http.ResponseWriter, err *APIError) {
	WriteJSON(w, err.HTTPStatusCode(), err)
}

// WriteErrorWithRequestID writes an APIError with the request ID set.
func WriteErrorWithRequestID(w http.ResponseWriter, err *APIError, requestID string) {
	WriteError(w, err.WithRequestID(requestID))
}

// GetStackTrace returns the current stack trace as a string.
func GetStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ValidationError represents a field-level validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of field-level validation errors.
type ValidationErrors []ValidationError

// Add adds a new validation error for a field.
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any validation errors.
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Error implements the error interface so field errors can flow through
// handler code before they are mapped.
func (v ValidationErrors) Error() string {
	return v.ToAPIError().Message
}

// ToAPIError converts validation errors to an APIError with field details.
func (v ValidationErrors) ToAPIError() *APIError {
	if len(v) == 0 {
		return NewValidationError("validation failed")
	}

	mainMessage := v[0].Message
	if len(v) > 1 {
		mainMessage = fmt.Sprintf("%s (and %d more errors)", mainMessage, len(v)-1)
	}

	return &APIError{
		Code:    CodeValidationError,
		Message: mainMessage,
		Details: map[string]any{
			"fields": v,
		},
	}
}

// AddFieldError is a helper to create a validation error for a single field.
func AddFieldError(field, message string) ValidationErrors {
	return ValidationErrors{{Field: field, Message: message}}
}

// ErrorLogEntry represents a structured error log entry.
type ErrorLogEntry struct {
	RequestID  string `json:"request_id"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace"`
}

// NewErrorLogEntry creates a new error log entry with the current stack.
func NewErrorLogEntry(requestID, errorCode, message string) *ErrorLogEntry {
	return &ErrorLogEntry{
		RequestID:  requestID,
		ErrorCode:  errorCode,
		Message:    message,
		StackTrace: GetStackTrace(),
	}
}

// ToSlogAttrs returns the error log entry as slog attributes for structured logging.
func (e *ErrorLogEntry) ToSlogAttrs() []any {
	return []any{
		"request_id", e.RequestID,
		"error_code", e.ErrorCode,
		"message", e.Message,
		"stack_trace", e.StackTrace,
	}
}
