// Package errors defines application errors and their HTTP rendering.
//
// Imported as apperrors to keep the standard library name free.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes returned in HTTP error bodies.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
)

// AppError is an error with an HTTP status and a stable code.
type AppError struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// NewBadRequest reports invalid client input.
func NewBadRequest(message string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message, Status: http.StatusBadRequest}
}

// NewNotFound reports a missing resource.
func NewNotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

// NewMethodNotAllowed reports an unsupported method on a known route.
func NewMethodNotAllowed(message string) *AppError {
	return &AppError{Code: CodeMethodNotAllowed, Message: message, Status: http.StatusMethodNotAllowed}
}

// NewPayloadTooLarge reports a request body over the configured limit.
func NewPayloadTooLarge(message string) *AppError {
	return &AppError{Code: CodePayloadTooLarge, Message: message, Status: http.StatusRequestEntityTooLarge}
}

// NewRateLimited reports a throttled request.
func NewRateLimited(message string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: message, Status: http.StatusTooManyRequests}
}

// NewServiceUnavailable reports a failing dependency or probe.
func NewServiceUnavailable(message string) *AppError {
	return &AppError{Code: CodeServiceUnavailable, Message: message, Status: http.StatusServiceUnavailable}
}

// NewExternalServiceError reports a failure in an external tool or service.
func NewExternalServiceError(message string) *AppError {
	return &AppError{Code: CodeExternalService, Message: message, Status: http.StatusBadGateway}
}

// WrapInternal wraps an unexpected error. A canceled context is reported as
// the cancellation rather than as an internal failure.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	if ctx != nil && ctx.Err() != nil && stderrors.Is(err, ctx.Err()) {
		return &AppError{Code: CodeServiceUnavailable, Message: message, Status: http.StatusServiceUnavailable, Err: err}
	}
	return &AppError{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError, Err: err}
}

// As extracts an AppError from err, wrapping anything else as internal.
func As(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Code: CodeInternal, Message: "internal error", Status: http.StatusInternalServerError, Err: err}
}
