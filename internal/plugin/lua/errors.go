package lua

import (
	"errors"
	"fmt"
)

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when execution times out.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrOperationLimit is returned when a script performs more document
	// operations than allowed.
	ErrOperationLimit = errors.New("lua operation limit exceeded")
)

// ScriptError reports a failed script run. Err holds the document error
// that aborted the script when there is one.
type ScriptError struct {
	Name    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Unwrap returns the underlying error.
func (e *ScriptError) Unwrap() error {
	return e.Err
}
