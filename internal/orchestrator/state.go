package orchestrator

import "fmt"

// State is a step of the turn state machine.
type State string

const (
	StateInit         State = "init"
	StateFirstPass    State = "first_pass"
	StateAugmenting   State = "augmenting"
	StateSecondPass   State = "second_pass"
	StateToolDispatch State = "tool_dispatch"
	StateFinalPass    State = "final_pass"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// transitions lists the forward edges. There are no edges back to
// FirstPass, so a turn makes at most one augmentation and one tool round.
var transitions = map[State][]State{
	StateInit:         {StateFirstPass, StateFailed},
	StateFirstPass:    {StateAugmenting, StateToolDispatch, StateDone, StateFailed},
	StateAugmenting:   {StateSecondPass, StateDone, StateFailed},
	StateSecondPass:   {StateToolDispatch, StateDone, StateFailed},
	StateToolDispatch: {StateFinalPass, StateFailed},
	StateFinalPass:    {StateDone, StateFailed},
}

// CanTransition reports whether the state machine allows s → to.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a turn.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// passFor maps a model-invoking state to its pass label.
func passFor(s State) Pass {
	switch s {
	case StateFirstPass:
		return PassFirst
	case StateSecondPass:
		return PassSecond
	case StateFinalPass:
		return PassFinal
	}
	panic(fmt.Sprintf("state %s does not invoke the model", s))
}
