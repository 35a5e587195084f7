// Package apierror provides the error envelope every handler writes:
// {"success": false, "error": message, "error_code": CODE}.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code represents an error code.
type Code string

// Standard error codes.
const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeDuplicate          Code = "DUPLICATE"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeInvalidStatus      Code = "INVALID_STATUS"
	CodeStorage            Code = "STORAGE_ERROR"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodePayloadTooLarge    Code = "PAYLOAD_TOO_LARGE"
)

// Error represents an API error.
type Error struct {
	// HTTP status code
	Status int

	// Machine-readable error code
	Code Code

	// Human-readable error message
	Message string

	// Additional error details (optional)
	Details any

	// Internal error (not exposed to client)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Response is the JSON body of an error.
type Response struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorCode Code   `json:"error_code"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ToResponse converts the error to its JSON body.
func (e *Error) ToResponse(requestID string) Response {
	return Response{
		Success:   false,
		Error:     e.Message,
		ErrorCode: e.Code,
		Details:   e.Details,
		RequestID: requestID,
	}
}

// WriteJSON writes the error envelope.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	e.WriteJSONWithRequestID(w, "")
}

// WriteJSONWithRequestID writes the error envelope carrying the request id.
func (e *Error) WriteJSONWithRequestID(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e.ToResponse(requestID))
}

// New creates a new API error.
func New(status int, code Code, message string) *Error {
	return &Error{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with API error context.
func Wrap(err error, status int, code Code, message string) *Error {
	return &Error{
		Status:  status,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// BadRequest creates a 400 error.
func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

// InvalidStatus creates a 400 error for a status outside the accepted set.
func InvalidStatus(message string) *Error {
	return New(http.StatusBadRequest, CodeInvalidStatus, message)
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden creates a 403 error.
func Forbidden(message string) *Error {
	if message == "" {
		message = "Permission denied"
	}
	return New(http.StatusForbidden, CodePermissionDenied, message)
}

// NotFound creates a 404 error.
func NotFound(resource string) *Error {
	message := "Resource not found"
	if resource != "" {
		message = fmt.Sprintf("%s not found", resource)
	}
	return New(http.StatusNotFound, CodeNotFound, message)
}

// Duplicate creates a 409 error.
func Duplicate(message string) *Error {
	return New(http.StatusConflict, CodeDuplicate, message)
}

// Validation creates a 422 error with the generic validation code.
func Validation(message string, details any) *Error {
	return ValidationWithCode(CodeValidation, message, details)
}

// ValidationWithCode creates a 422 error with a rule-specific code such as
// COMMENT_REQUIRED.
func ValidationWithCode(code Code, message string, details any) *Error {
	return &Error{
		Status:  http.StatusUnprocessableEntity,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// PayloadTooLarge creates a 413 error.
func PayloadTooLarge(message string) *Error {
	return New(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

// Storage creates a 502 error for blob storage failures.
func Storage(err error) *Error {
	return &Error{
		Status:  http.StatusBadGateway,
		Code:    CodeStorage,
		Message: "File storage is unavailable",
		Err:     err,
	}
}

// InternalError creates a 500 error hiding err from the client.
func InternalError(err error) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternalError,
		Message: "An internal error occurred",
		Err:     err,
	}
}

// ServiceUnavailable creates a 503 error.
func ServiceUnavailable(message string) *Error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return New(http.StatusServiceUnavailable, CodeServiceUnavailable, message)
}

// RateLimited creates a 429 error.
func RateLimited() *Error {
	return New(http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded")
}

// FromError converts any error to an API error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return InternalError(err)
}

// FieldError is one field validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
