package server

import "fmt"

// ErrorCode classifies MCP tool errors for structured error handling
type ErrorCode string

const (
	ErrInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrNotFound      ErrorCode = "NOT_FOUND"
	ErrDatabaseError ErrorCode = "DATABASE_ERROR"
)

// ToolError is returned from tool handlers; the SDK reports its text to the
// client as a tool error.
type ToolError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewInvalidInputError(msg string) *ToolError {
	return &ToolError{Code: ErrInvalidInput, Message: msg}
}

func NewInvalidInputErrorWithDetails(msg, details string) *ToolError {
	return &ToolError{Code: ErrInvalidInput, Message: msg, Details: details}
}

// NewNotFoundErrorWithID creates an error for a missing resource with its identifier
func NewNotFoundErrorWithID(resource string, id interface{}) *ToolError {
	return &ToolError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: fmt.Sprintf("id=%v", id),
	}
}

// NewDatabaseErrorWithContext names the operation that failed.
func NewDatabaseErrorWithContext(operation string, err error) *ToolError {
	return &ToolError{
		Code:    ErrDatabaseError,
		Message: fmt.Sprintf("Database %s failed", operation),
		Details: err.Error(),
	}
}
