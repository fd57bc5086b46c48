package reflexion

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ErrInvalidTransition reports a state change the transition table does not
// allow. It indicates a bug in the controller, and the episode fails.
var ErrInvalidTransition = goerr.New("invalid state transition")

// State is the lifecycle state of an episode.
type State string

const (
	StateExecuting       State = "EXECUTING"
	StateEvaluating      State = "EVALUATING"
	StateAccepted        State = "ACCEPTED"
	StateRetrying        State = "RETRYING"
	StateReplanning      State = "REPLANNING"
	StateEscalated       State = "ESCALATED"
	StateTerminalSuccess State = "TERMINAL_SUCCESS"
	StateTerminalFailure State = "TERMINAL_FAILURE"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateTerminalSuccess || s == StateTerminalFailure
}

func (s State) String() string { return string(s) }

var transitions = map[State][]State{
	// a failed worker call goes straight to RETRYING
	StateExecuting:  {StateEvaluating, StateRetrying, StateTerminalFailure},
	StateEvaluating: {StateAccepted, StateRetrying, StateReplanning, StateEscalated, StateTerminalFailure},
	StateAccepted:   {StateExecuting, StateTerminalSuccess},
	StateRetrying:   {StateExecuting, StateReplanning},
	// a planning failure consumes a replan and stays in REPLANNING
	StateReplanning: {StateExecuting, StateReplanning, StateEscalated, StateTerminalFailure},
	StateEscalated:  {StateAccepted, StateRetrying, StateReplanning, StateTerminalFailure},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one entry of an episode's history.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	StepID string    `json:"step_id,omitempty"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}
