package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
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

// WithDetails attaches structured context to the error and returns it.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrValidation
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrRaceLoss
	ErrInvalidTransition
	ErrLimitExceeded
	ErrNotEligible
	ErrSignatureInvalid
	ErrGatewayTimeout
	ErrGatewayError
	ErrDuplicate
)

// Error constructors
func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func Validation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

// RaceLoss marks the expected outcome of losing a concurrent exclusive
// transition. Callers translate it into an "already done" response, never
// into an internal error.
func RaceLoss(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Code:    ErrRaceLoss,
		Message: message,
		Details: details,
	}
}

func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("invalid transition from %s to %s", from, to),
		Details: map[string]interface{}{"from": from, "to": to},
	}
}

func LimitExceeded(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Code:    ErrLimitExceeded,
		Message: message,
		Details: details,
	}
}

func NotEligible(message string) *AppError {
	return &AppError{
		Code:    ErrNotEligible,
		Message: message,
	}
}

// SignatureInvalid is a tamper signal, never retried automatically.
func SignatureInvalid(paymentID string) *AppError {
	return &AppError{
		Code:    ErrSignatureInvalid,
		Message: "payment signature verification failed",
		Details: map[string]interface{}{"payment_id": paymentID},
	}
}

func GatewayTimeout(err error) *AppError {
	return &AppError{
		Code:    ErrGatewayTimeout,
		Message: "payment gateway timed out",
		Err:     err,
	}
}

func GatewayError(err error) *AppError {
	return &AppError{
		Code:    ErrGatewayError,
		Message: "payment gateway error",
		Err:     err,
	}
}

func Duplicate(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Code:    ErrDuplicate,
		Message: message,
		Details: details,
	}
}

// Is reports whether err carries the given application code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the application code from err, or ErrInternal.
func Code(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
