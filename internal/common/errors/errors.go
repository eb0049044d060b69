// Package errors provides the error type the status API surfaces.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// API error codes.
const (
	CodeNotFound    = "NOT_FOUND"
	CodeBadRequest  = "BAD_REQUEST"
	CodeUnavailable = "UNAVAILABLE"
	CodeInternal    = "INTERNAL_ERROR"
)

// APIError carries a stable code and HTTP status alongside the message.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NotFound reports a missing resource.
func NotFound(resource, id string) *APIError {
	return &APIError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %q not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest reports an invalid request.
func BadRequest(message string) *APIError {
	return &APIError{
		Code:       CodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unavailable reports a component that is not ready, typically an engine
// whose binary is missing.
func Unavailable(what string) *APIError {
	return &APIError{
		Code:       CodeUnavailable,
		Message:    fmt.Sprintf("%s is unavailable", what),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Internal wraps an unexpected error.
func Internal(message string, err error) *APIError {
	return &APIError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HTTPStatus returns the status for an error, defaulting to 500.
func HTTPStatus(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
