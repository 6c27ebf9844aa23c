package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors shared across the persistence and sync layers.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrIncompleteLoad = errors.New("variable set load incomplete")
	ErrInvalidSet     = errors.New("invalid variable set")
	ErrInvalidToken   = errors.New("invalid variable id token")
	ErrUnavailable    = errors.New("backend unavailable")
)

// ErrorCode is the machine-readable classification of a failure.
type ErrorCode string

const (
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeConflict       ErrorCode = "ALREADY_EXISTS"
	ErrCodeIncompleteLoad ErrorCode = "INCOMPLETE_LOAD"
	ErrCodeUnavailable    ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeRateLimit      ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

// HTTPStatus is the response status used for the code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeInvalidInput, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeIncompleteLoad:
		return http.StatusBadGateway
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf classifies err by the error type or sentinel it wraps.
func CodeOf(err error) ErrorCode {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return ErrCodeValidation
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrAlreadyExists):
		return ErrCodeConflict
	case errors.Is(err, ErrInvalidSet), errors.Is(err, ErrInvalidToken):
		return ErrCodeInvalidInput
	case errors.Is(err, ErrIncompleteLoad):
		return ErrCodeIncompleteLoad
	case errors.Is(err, ErrUnavailable):
		return ErrCodeUnavailable
	default:
		return ErrCodeInternalServer
	}
}

// IncompleteLoadError names the members of a variable set that the backend
// did not return. It matches ErrIncompleteLoad.
type IncompleteLoadError struct {
	SetKey  string
	Missing []string
}

func (e *IncompleteLoadError) Error() string {
	return fmt.Sprintf("%v: %s is missing %s", ErrIncompleteLoad, e.SetKey, strings.Join(e.Missing, ", "))
}

func (e *IncompleteLoadError) Unwrap() error { return ErrIncompleteLoad }

// APIError is the body of every failed HTTP request.
type APIError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Missing   []string  `json:"missing,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError creates an APIError stamped with the current time.
func NewAPIError(code ErrorCode, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// APIErrorFrom describes err for a client. Internal errors keep their details
// out of the body since they may carry SQL or connection strings.
func APIErrorFrom(err error, requestID string) *APIError {
	code := CodeOf(err)
	details := err.Error()
	if code == ErrCodeInternalServer {
		details = ""
	}
	apiErr := NewAPIError(code, http.StatusText(code.HTTPStatus()), details, requestID)

	var lerr *IncompleteLoadError
	if errors.As(err, &lerr) {
		apiErr.Message = "Variable set loaded incompletely"
		apiErr.Missing = lerr.Missing
	}
	return apiErr
}

// ValidationError reports the request field that failed validation.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
