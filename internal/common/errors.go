package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrValidation   = errors.New("validation failed")
)

// Pipeline errors. The first two abort a run; the rest mark a single
// stage failed or drop the cache out of the picture.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrCorruptInput      = errors.New("corrupt document input")
	ErrOCRUnavailable    = errors.New("ocr service unavailable")
	ErrVisionUnavailable = errors.New("vision service unavailable")
	ErrCacheUnavailable  = errors.New("record cache unavailable")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsHardFailure reports whether err belongs to the class that aborts a
// pipeline run instead of degrading it.
func IsHardFailure(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrCorruptInput)
}
