package tribunal

import (
	"math"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Judgment is the output of one evaluation.
type Judgment struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Source     Source  `json:"source"`
}

// Validate checks the field ranges of a Judgment.
func (j Judgment) Validate() error {
	if !j.Action.Valid() {
		return goerr.Wrap(ErrInvalidJudgment, "unknown action", goerr.V("action", j.Action))
	}
	if !j.Source.Valid() {
		return goerr.Wrap(ErrInvalidJudgment, "unknown source", goerr.V("source", j.Source))
	}
	if math.IsNaN(j.Confidence) || j.Confidence < 0 || j.Confidence > 1 {
		return goerr.Wrap(ErrInvalidJudgment, "confidence out of range", goerr.V("confidence", j.Confidence))
	}
	if j.Action == ActionAbort && j.Source == SourceModel {
		return goerr.Wrap(ErrInvalidJudgment, "model judge cannot abort")
	}
	return nil
}

// Verdict is the raw output of a model judge before it becomes a Judgment.
type Verdict struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// HumanDecision resolves a pending escalation.
type HumanDecision struct {
	Action    Action    `json:"action"`
	Reasoning string    `json:"reasoning"`
	Approver  string    `json:"approver"`
	DecidedAt time.Time `json:"decided_at"`
}

// Validate rejects actions a reviewer cannot take.
func (d HumanDecision) Validate() error {
	if !d.Action.HumanAllowed() {
		return goerr.Wrap(ErrInvalidDecision, "action is not allowed for a human decision", goerr.V("action", d.Action))
	}
	return nil
}

// Judgment converts the decision into a human-sourced Judgment.
func (d HumanDecision) Judgment() Judgment {
	return Judgment{
		Action:     d.Action,
		Confidence: 1.0,
		Reasoning:  d.Reasoning,
		Source:     SourceHuman,
	}
}
