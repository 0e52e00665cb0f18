package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ez-Support/swd-ros-controllers/internal/drive"
	"github.com/ez-Support/swd-ros-controllers/internal/motor"
)

// API-layer error codes.
var (
	ErrBadRequest = errors.New("BAD_REQUEST")
	ErrNotFound   = errors.New("NOT_FOUND")
)

// APIError is an error with its HTTP status and envelope code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// NewAPIError creates a new API error.
func NewAPIError(code, message string, statusCode int, details interface{}) *APIError {
	return &APIError{Code: code, Message: message, Details: details, StatusCode: statusCode}
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToAPIError maps controller, motor and transport errors to an APIError.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, ErrBadRequest):
		return NewAPIError("BAD_REQUEST", "Malformed or missing required parameter", http.StatusBadRequest, nil)
	case errors.Is(err, ErrNotFound):
		return NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound, nil)
	case errors.Is(err, drive.ErrWrongCommandMode):
		return NewAPIError("WRONG_MODE", err.Error(), http.StatusConflict, nil)
	case errors.Is(err, drive.ErrInvalidCommand):
		return NewAPIError("INVALID_RANGE", err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, drive.ErrStopped):
		return NewAPIError("UNAVAILABLE", "Controller is not running", http.StatusServiceUnavailable, nil)
	case errors.Is(err, motor.ErrInvalidRange):
		return NewAPIError("INVALID_RANGE", "Parameter value is outside the allowed range", http.StatusBadRequest, nil)
	case errors.Is(err, motor.ErrBusy):
		return NewAPIError("BUSY", "Motor is busy, retry with backoff", http.StatusServiceUnavailable, nil)
	case errors.Is(err, motor.ErrUnavailable):
		return NewAPIError("UNAVAILABLE", "Motor is temporarily unavailable", http.StatusServiceUnavailable, nil)
	case errors.Is(err, context.DeadlineExceeded):
		return NewAPIError("BUSY", "Command queue full, retry with backoff", http.StatusServiceUnavailable, nil)
	}

	return NewAPIError("INTERNAL", "Internal server error", http.StatusInternalServerError,
		map[string]interface{}{"original": err.Error()})
}
