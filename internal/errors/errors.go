package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Perch error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrParse              ErrorCode = "PARSE_ERROR"         // 400
	ErrNoPayloadFound     ErrorCode = "NO_PAYLOAD_FOUND"    // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrBusy               ErrorCode = "BUSY"                // 409
	ErrExtractionFailed   ErrorCode = "EXTRACTION_FAILED"   // 422
	ErrInternal           ErrorCode = "INTERNAL"            // 500
	ErrServiceError       ErrorCode = "SERVICE_ERROR"       // 502
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE" // 503
)

// PerchError represents a structured error with code, status, and details.
// Cause, when set, is appended to Error() so nested failures read as one chain.
type PerchError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *PerchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *PerchError) Unwrap() error {
	return e.Cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *PerchError {
	return &PerchError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewParse creates a 400 error for a malformed launch payload.
func NewParse(msg string, cause error) *PerchError {
	return &PerchError{
		Code:    ErrParse,
		Status:  400,
		Message: msg,
		Cause:   cause,
	}
}

// NewNoPayloadFound creates a 400 error when no launch argument yields a payload.
func NewNoPayloadFound(cause error) *PerchError {
	return &PerchError{
		Code:    ErrNoPayloadFound,
		Status:  400,
		Message: "no launch payload found in arguments",
		Cause:   cause,
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(identifier string) *PerchError {
	return &PerchError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewBusy creates a 409 error when an analysis is already in flight.
func NewBusy() *PerchError {
	return &PerchError{
		Code:    ErrBusy,
		Status:  409,
		Message: "an analysis is already running; try again when it finishes",
	}
}

// NewExtraction creates a 422 error for a selected file that could not be read or decoded.
func NewExtraction(path string, cause error) *PerchError {
	return &PerchError{
		Code:    ErrExtractionFailed,
		Status:  422,
		Message: fmt.Sprintf("failed to extract %s", path),
		Details: map[string]any{"path": path},
		Cause:   cause,
	}
}

// NewServiceError creates a 502 error for a failed text-generation request.
func NewServiceError(msg string, cause error) *PerchError {
	return &PerchError{
		Code:    ErrServiceError,
		Status:  502,
		Message: msg,
		Cause:   cause,
	}
}

// NewServiceUnavailable creates a 503 error when the text-generation service cannot be reached.
func NewServiceUnavailable(msg string, cause error) *PerchError {
	return &PerchError{
		Code:    ErrServiceUnavailable,
		Status:  503,
		Message: msg,
		Cause:   cause,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *PerchError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &PerchError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if err (or anything it wraps) is a PerchError with the given code.
func Is(err error, code ErrorCode) bool {
	var pErr *PerchError
	if stderrors.As(err, &pErr) {
		return pErr.Code == code
	}
	return false
}

// As returns the outermost PerchError in err's chain, or nil.
func As(err error) *PerchError {
	var pErr *PerchError
	if stderrors.As(err, &pErr) {
		return pErr
	}
	return nil
}
