package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Registration and configuration errors
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrCodeConfigLoad      ErrorCode = "CONFIG_LOAD_FAILED"
	ErrCodeInvalidConfig   ErrorCode = "INVALID_CONFIG"
	ErrCodeUnknownStrategy ErrorCode = "UNKNOWN_STRATEGY"

	// Forwarding errors
	ErrCodeConnectionNotSupported ErrorCode = "CONNECTION_NOT_SUPPORTED"

	// Inspection API errors
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// FabricError represents a structured error with context
type FabricError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *FabricError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *FabricError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error code
func (e *FabricError) Is(target error) bool {
	if t, ok := target.(*FabricError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *FabricError) WithMetadata(key string, value interface{}) *FabricError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *FabricError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeInvalidArgument, ErrCodeInvalidConfig, ErrCodeUnknownStrategy:
		return 400
	case ErrCodeNotFound:
		return 404
	default:
		return 500
	}
}

// NewError creates a new FabricError
func NewError(code ErrorCode, component, message string) *FabricError {
	return &FabricError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewErrorf creates a new FabricError with a formatted message
func NewErrorf(code ErrorCode, component, format string, args ...interface{}) *FabricError {
	return NewError(code, component, fmt.Sprintf(format, args...))
}

// WrapError wraps an existing error with FabricError structure
func WrapError(err error, code ErrorCode, component, message string) *FabricError {
	if err == nil {
		return nil
	}

	return &FabricError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Details:   err.Error(),
	}
}

// NewInvalidPrefixError creates the registration-time error for a malformed route prefix
func NewInvalidPrefixError(component, prefix string) *FabricError {
	return NewErrorf(
		ErrCodeInvalidArgument,
		component,
		"route prefix %q must be non-empty and start with '/'", prefix,
	).WithMetadata("prefix", prefix)
}

// NewUnknownStrategyError creates the error for an unrecognized strategy type
func NewUnknownStrategyError(component, strategy string) *FabricError {
	return NewErrorf(
		ErrCodeUnknownStrategy,
		component,
		"unknown load balancing strategy %q", strategy,
	).WithMetadata("strategy", strategy)
}

// NewConnectionNotSupportedError signals that a downstream cannot terminate
// transport-level connections. The forwarder treats it as an expected,
// locally handled condition.
func NewConnectionNotSupportedError(downstream string) *FabricError {
	return NewErrorf(
		ErrCodeConnectionNotSupported,
		downstream,
		"downstream %q does not accept transport-level connections", downstream,
	).WithMetadata("downstream", downstream)
}

// IsFabricError checks if an error is a FabricError
func IsFabricError(err error) bool {
	var fe *FabricError
	return errors.As(err, &fe)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var fe *FabricError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain
func HasCode(err error, code ErrorCode) bool {
	var fe *FabricError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// GetHTTPStatusCode gets the appropriate HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var fe *FabricError
	if errors.As(err, &fe) {
		return fe.HTTPStatusCode()
	}
	return 500
}
