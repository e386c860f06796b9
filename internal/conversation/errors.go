package conversation

import "fmt"

// DanglingToolResultError is returned when a tool result does not answer a
// pending tool call of the current turn.
type DanglingToolResultError struct {
	ToolCallID string
	Reason     string
}

func (e *DanglingToolResultError) Error() string {
	return fmt.Sprintf("dangling tool result %q: %s", e.ToolCallID, e.Reason)
}
