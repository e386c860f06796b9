package orchestrator

import "fmt"

// TurnError is returned by Run when a turn cannot complete. It carries the
// state that failed and wraps the cause, typically an
// *llm.ModelUnavailableError.
type TurnError struct {
	TurnID string
	State  State
	Err    error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %s failed in %s: %v", e.TurnID, e.State, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// transitionError reports an edge the state machine does not have. It
// indicates a bug in the orchestrator.
type transitionError struct {
	From, To State
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}
