package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the runtime.
type ErrorCode string

// Registry and coordinator error codes
const (
	ErrProviderNotFound              ErrorCode = "PROVIDER_NOT_FOUND"
	ErrResourceExhausted             ErrorCode = "RESOURCE_EXHAUSTED"
	ErrInvalidStateTransition        ErrorCode = "INVALID_STATE_TRANSITION"
	ErrComponentInitializationFailed ErrorCode = "COMPONENT_INITIALIZATION_FAILED"
	ErrInvalidRequest                ErrorCode = "INVALID_REQUEST"
)

// Pipeline error codes
const (
	ErrPipelineStageFailed ErrorCode = "PIPELINE_STAGE_FAILED"
)

// Module registry error codes
const (
	ErrModuleAlreadyRegistered ErrorCode = "MODULE_ALREADY_REGISTERED"
	ErrModuleNotFound          ErrorCode = "MODULE_NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error from anywhere in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// Common constructors

// NewProviderNotFoundError reports that no provider can serve a capability.
func NewProviderNotFoundError(capability Capability, modelID string) *Error {
	if modelID == "" {
		return Errorf(ErrProviderNotFound, "no provider for %s", capability)
	}
	return Errorf(ErrProviderNotFound, "no provider for %s with model %q", capability, modelID)
}

// NewResourceExhaustedError reports insufficient memory for a load.
func NewResourceExhaustedError(need, available int64) *Error {
	return Errorf(ErrResourceExhausted, "need %d bytes, %d available", need, available).WithRetryable(true)
}

// NewStageFailedError wraps a failing pipeline stage.
func NewStageFailedError(stage string, cause error) *Error {
	return Errorf(ErrPipelineStageFailed, "stage %s failed", stage).WithCause(cause).WithRetryable(true)
}
