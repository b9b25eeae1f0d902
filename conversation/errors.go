package conversation

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrModelRequest is returned when the model call fails or returns an empty response.
	ErrModelRequest = errors.New("model request failed")
	// ErrToolExecution is the classification of ToolExecutionError.
	ErrToolExecution = errors.New("tool execution failed")
	// ErrTurnLimit is returned when the model keeps requesting tools beyond the turn limit.
	ErrTurnLimit = errors.New("turn limit exceeded")
)

// ToolExecutionError is returned when a tool call can not be performed.
// It names the tool, the query is aborted.
type ToolExecutionError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q (call %s) failed: %v", e.Tool, e.CallID, e.Err)
}

// Unwrap returns the cause
func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// Is reports ErrToolExecution as the kind of this error
func (e *ToolExecutionError) Is(target error) bool {
	return target == ErrToolExecution
}
