package tribunal

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal/predicate"
)

// DefaultGoalType is used when a Goal does not declare its type.
const DefaultGoalType = "default"

// MetricKind tells how a SuccessCriterion is measured.
type MetricKind string

const (
	// MetricOutputContains checks that the value at Path contains Target as text.
	MetricOutputContains MetricKind = "output_contains"
	// MetricOutputEquals checks that the value at Path equals Target.
	MetricOutputEquals MetricKind = "output_equals"
	// MetricLLMJudge is left to the semantic judge.
	MetricLLMJudge MetricKind = "llm_judge"
	// MetricCustom evaluates Check against the result.
	MetricCustom MetricKind = "custom"
)

// DefaultOutputPath is the payload field used by output metrics without Path.
const DefaultOutputPath = "output"

// SuccessCriterion is a weighted, measurable condition of a Goal.
type SuccessCriterion struct {
	ID          string              `json:"id"`
	Description string              `json:"description"`
	Metric      MetricKind          `json:"metric"`
	Target      any                 `json:"target,omitempty"`
	Weight      float64             `json:"weight"`
	Path        string              `json:"path,omitempty"`
	Check       predicate.Predicate `json:"check,omitempty"`
}

// ConstraintType distinguishes constraints that force escalation from
// constraints that only inform the judge.
type ConstraintType string

const (
	ConstraintHard ConstraintType = "hard"
	ConstraintSoft ConstraintType = "soft"
)

// Constraint is a named predicate that matches when the result violates it.
type Constraint struct {
	ID          string              `json:"id"`
	Description string              `json:"description"`
	Type        ConstraintType      `json:"type"`
	Predicate   predicate.Predicate `json:"predicate"`
}

// Goal is the declarative target an episode works toward.
type Goal struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Type        string             `json:"type,omitempty"`
	Criteria    []SuccessCriterion `json:"criteria"`
	Constraints []Constraint       `json:"constraints"`
	Context     map[string]any     `json:"context,omitempty"`
}

// GoalType returns the goal type used for thresholds and calibration.
func (g Goal) GoalType() string {
	if g.Type == "" {
		return DefaultGoalType
	}
	return g.Type
}

// HardConstraints returns constraints of type hard, in declaration order.
func (g Goal) HardConstraints() []Constraint { return g.constraintsOf(ConstraintHard) }

// SoftConstraints returns constraints of type soft, in declaration order.
func (g Goal) SoftConstraints() []Constraint { return g.constraintsOf(ConstraintSoft) }

func (g Goal) constraintsOf(kind ConstraintType) []Constraint {
	var out []Constraint
	for _, c := range g.Constraints {
		if c.Type == kind {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks identifiers, weights and predicates of the goal.
func (g Goal) Validate() error {
	if g.ID == "" {
		return goerr.Wrap(ErrInvalidGoal, "goal id is empty")
	}

	seen := map[string]bool{}
	for _, c := range g.Criteria {
		if c.ID == "" {
			return goerr.Wrap(ErrInvalidGoal, "criterion id is empty", goerr.V("goal_id", g.ID))
		}
		if seen[c.ID] {
			return goerr.Wrap(ErrInvalidGoal, "duplicated criterion id", goerr.V("goal_id", g.ID), goerr.V("criterion_id", c.ID))
		}
		seen[c.ID] = true

		if c.Weight < 0 {
			return goerr.Wrap(ErrInvalidGoal, "criterion weight is negative", goerr.V("criterion_id", c.ID))
		}
		switch c.Metric {
		case MetricOutputContains, MetricOutputEquals, MetricLLMJudge:
		case MetricCustom:
			if c.Check == nil {
				return goerr.Wrap(ErrInvalidGoal, "custom criterion requires a check", goerr.V("criterion_id", c.ID))
			}
		default:
			return goerr.Wrap(ErrInvalidGoal, "unknown metric", goerr.V("criterion_id", c.ID), goerr.V("metric", c.Metric))
		}
	}

	seen = map[string]bool{}
	for _, c := range g.Constraints {
		if c.ID == "" {
			return goerr.Wrap(ErrInvalidGoal, "constraint id is empty", goerr.V("goal_id", g.ID))
		}
		if seen[c.ID] {
			return goerr.Wrap(ErrInvalidGoal, "duplicated constraint id", goerr.V("constraint_id", c.ID))
		}
		seen[c.ID] = true

		if c.Type != ConstraintHard && c.Type != ConstraintSoft {
			return goerr.Wrap(ErrInvalidGoal, "unknown constraint type", goerr.V("constraint_id", c.ID), goerr.V("type", c.Type))
		}
		if c.Predicate == nil {
			return goerr.Wrap(ErrInvalidGoal, "constraint has no predicate", goerr.V("constraint_id", c.ID))
		}
	}

	return nil
}
