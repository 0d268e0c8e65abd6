// Package errors defines the structured error type shared by every relay component.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeUnauthorized is returned for unknown or disabled source tokens
	ErrTypeUnauthorized ErrorType = "unauthorized"
	// ErrTypeForbidden is returned when the caller address is not allowlisted
	ErrTypeForbidden ErrorType = "forbidden"
	// ErrTypePayloadTooLarge is returned when a body exceeds the source limit
	ErrTypePayloadTooLarge ErrorType = "payload_too_large"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeValidation represents malformed configuration or input
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConflict is returned when an operation would break referential integrity
	ErrTypeConflict ErrorType = "conflict"
	// ErrTypeDeliveryFailed marks a delivery whose retry budget is exhausted
	ErrTypeDeliveryFailed ErrorType = "delivery_failed"
	// ErrTypeOverflow marks a delivery rejected by a saturated destination queue
	ErrTypeOverflow ErrorType = "overflow"
	// ErrTypeUnavailable represents a storage layer that cannot accept writes
	ErrTypeUnavailable ErrorType = "unavailable"
	// ErrTypeRateLimit represents rate limit errors
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// UnauthorizedError creates a new unauthorized error
func UnauthorizedError(msg string) *AppError {
	return &AppError{Type: ErrTypeUnauthorized, Message: msg}
}

// ForbiddenError creates a new forbidden error
func ForbiddenError(msg string) *AppError {
	return &AppError{Type: ErrTypeForbidden, Message: msg}
}

// PayloadTooLargeError reports a body that exceeded limit bytes
func PayloadTooLargeError(limit int64) *AppError {
	return &AppError{
		Type:    ErrTypePayloadTooLarge,
		Message: fmt.Sprintf("payload exceeds %d bytes", limit),
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{Type: ErrTypeValidation, Message: msg}
}

// ConflictError creates a new conflict error
func ConflictError(msg string) *AppError {
	return &AppError{Type: ErrTypeConflict, Message: msg}
}

// DeliveryFailedError creates a terminal delivery error
func DeliveryFailedError(destinationID string, attempts int, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeDeliveryFailed,
		Message: fmt.Sprintf("delivery to %s failed after %d attempts", destinationID, attempts),
		Cause:   cause,
	}
}

// OverflowError creates a new queue overflow error
func OverflowError(destinationID string) *AppError {
	return &AppError{
		Type:    ErrTypeOverflow,
		Message: fmt.Sprintf("delivery queue for %s is full", destinationID),
	}
}

// UnavailableError creates a new unavailable error
func UnavailableError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeUnavailable, Message: msg, Cause: cause}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeConnection, Message: msg, Cause: cause}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{Type: ErrTypeConfig, Message: msg}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
	}
}

// RateLimitError creates a new rate limit error
func RateLimitError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimit,
		Message: fmt.Sprintf("rate limit exceeded for %s", resource),
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := As(err)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}

// HTTPStatus maps an error to the status code returned to HTTP callers.
func HTTPStatus(err error) int {
	switch GetType(err) {
	case "":
		return http.StatusOK
	case ErrTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrTypeForbidden:
		return http.StatusForbidden
	case ErrTypePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrTypeNotFound:
		return http.StatusNotFound
	case ErrTypeValidation:
		return http.StatusBadRequest
	case ErrTypeConflict:
		return http.StatusConflict
	case ErrTypeRateLimit, ErrTypeOverflow:
		return http.StatusTooManyRequests
	case ErrTypeUnavailable, ErrTypeConnection:
		return http.StatusServiceUnavailable
	case ErrTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-safe message for err. Untyped errors are hidden
// behind a generic message.
func Message(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Message
	}
	return "internal server error"
}
