package tribunal

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Action is the verdict carried by a Judgment or a HumanDecision. The set is
// closed; any other value is rejected by ParseAction.
type Action string

const (
	ActionAccept   Action = "ACCEPT"
	ActionRetry    Action = "RETRY"
	ActionReplan   Action = "REPLAN"
	ActionEscalate Action = "ESCALATE"
	// ActionAbort is only produced by a human decision or by an escalation
	// timeout fallback.
	ActionAbort Action = "ABORT"
)

var actions = []Action{ActionAccept, ActionRetry, ActionReplan, ActionEscalate, ActionAbort}

// ParseAction converts text into an Action, ignoring case and surrounding spaces.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", goerr.Wrap(ErrInvalidAction, "unknown action", goerr.V("action", s))
	}
	return a, nil
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	for _, x := range actions {
		if a == x {
			return true
		}
	}
	return false
}

// Automatic reports whether a rule or the model judge may produce a.
func (a Action) Automatic() bool {
	return a.Valid() && a != ActionAbort
}

// HumanAllowed reports whether a human reviewer may decide a.
func (a Action) HumanAllowed() bool {
	return a.Valid() && a != ActionEscalate
}

func (a Action) String() string { return string(a) }

func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, goerr.Wrap(ErrInvalidAction, "cannot marshal unknown action", goerr.V("action", string(a)))
	}
	return []byte(a), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Source identifies which signal produced a Judgment.
type Source string

const (
	SourceRule  Source = "rule"
	SourceModel Source = "model"
	SourceHuman Source = "human"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceRule || s == SourceModel || s == SourceHuman
}
