package errors

import "fmt"

// ErrorCode represents a codetrail error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrLLMDisabled    ErrorCode = "LLM_DISABLED"    // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrDuplicatePath  ErrorCode = "DUPLICATE_PATH"  // 409
	ErrConflict       ErrorCode = "CONFLICT"        // 409
	ErrTransient      ErrorCode = "TRANSIENT"       // 503, retryable
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// TrailError represents a structured error with code, status, and details.
type TrailError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *TrailError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *TrailError {
	return &TrailError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewLLMDisabled creates a 400 error for endpoints that require a configured LLM.
func NewLLMDisabled() *TrailError {
	return &TrailError{
		Code:    ErrLLMDisabled,
		Status:  400,
		Message: "OPENAI_API_KEY is required for this operation",
	}
}

// NewNotFound creates a 404 error for an unknown entity.
func NewNotFound(entity string, id any) *TrailError {
	return &TrailError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %v", entity, id),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// NewDuplicatePath creates a 409 error for project path collisions.
func NewDuplicatePath(path string) *TrailError {
	return &TrailError{
		Code:    ErrDuplicatePath,
		Status:  409,
		Message: fmt.Sprintf("a project already watches %q", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *TrailError {
	return &TrailError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewTransient creates a 503 error for retryable backend failures.
func NewTransient(err error) *TrailError {
	msg := "temporary backend failure"
	if err != nil {
		msg = err.Error()
	}
	return &TrailError{
		Code:    ErrTransient,
		Status:  503,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *TrailError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &TrailError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a TrailError with the given code.
func Is(err error, code ErrorCode) bool {
	if tErr, ok := err.(*TrailError); ok {
		return tErr.Code == code
	}
	return false
}
