// Package rule implements the deterministic first stage of evaluation: hard
// constraints that force escalation and priority-ordered rules that decide an
// action without consulting a model.
package rule

import (
	"cmp"
	"context"
	"slices"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/predicate"
)

var ErrInvalidRule = goerr.New("invalid rule")

const (
	// ReasonHardConstraint prefixes the reasoning of a hard constraint judgment.
	ReasonHardConstraint = "hard constraint violated: "
	// ReasonRuleMatched prefixes the reasoning of a rule judgment.
	ReasonRuleMatched = "rule matched: "
)

// Rule maps a predicate to an action. Higher Priority is evaluated first;
// rules with equal priority keep their declaration order.
type Rule struct {
	ID          string
	Description string
	Priority    int
	Action      tribunal.Action
	When        predicate.Predicate
}

// Engine evaluates hard constraints and rules against a result. It is
// immutable after New and safe for concurrent use.
type Engine struct {
	rules []Rule
}

// New validates and orders the rules.
func New(rules ...Rule) (*Engine, error) {
	seen := map[string]bool{}
	for _, r := range rules {
		if r.ID == "" {
			return nil, goerr.Wrap(ErrInvalidRule, "rule id is empty")
		}
		if seen[r.ID] {
			return nil, goerr.Wrap(ErrInvalidRule, "duplicated rule id", goerr.V("rule_id", r.ID))
		}
		seen[r.ID] = true

		if r.When == nil {
			return nil, goerr.Wrap(ErrInvalidRule, "rule has no predicate", goerr.V("rule_id", r.ID))
		}
		if !r.Action.Automatic() {
			return nil, goerr.Wrap(ErrInvalidRule, "rule action must be ACCEPT, RETRY, REPLAN or ESCALATE",
				goerr.V("rule_id", r.ID), goerr.V("action", r.Action))
		}
	}

	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b Rule) int {
		return cmp.Compare(b.Priority, a.Priority)
	})

	return &Engine{rules: sorted}, nil
}

// Rules returns the rules in evaluation order.
func (e *Engine) Rules() []Rule {
	if e == nil {
		return nil
	}
	return slices.Clone(e.rules)
}

// Evaluate checks the hard constraints in order and then the rules by
// priority. The first hard constraint that matches yields ESCALATE; otherwise
// the first matching rule yields its action. Both produce confidence 1.0 and
// source rule. It returns false when nothing matched. Soft constraints in
// constraints are ignored here.
func (e *Engine) Evaluate(ctx context.Context, result *tribunal.Result, constraints []tribunal.Constraint) (*tribunal.Judgment, bool) {
	logger := ctxlog.From(ctx)

	for _, c := range constraints {
		if c.Type != tribunal.ConstraintHard {
			continue
		}
		if matches(ctx, c.ID, c.Predicate, result) {
			logger.Info("hard constraint violated", "constraint_id", c.ID, "result_id", resultID(result))
			return &tribunal.Judgment{
				Action:     tribunal.ActionEscalate,
				Confidence: 1.0,
				Reasoning:  ReasonHardConstraint + c.ID,
				Source:     tribunal.SourceRule,
			}, true
		}
	}

	if e == nil {
		return nil, false
	}

	for _, r := range e.rules {
		if matches(ctx, r.ID, r.When, result) {
			logger.Debug("rule matched", "rule_id", r.ID, "action", r.Action, "result_id", resultID(result))
			return &tribunal.Judgment{
				Action:     r.Action,
				Confidence: 1.0,
				Reasoning:  ReasonRuleMatched + r.ID,
				Source:     tribunal.SourceRule,
			}, true
		}
	}

	return nil, false
}

// SoftViolations returns the soft constraints that match result, in
// declaration order. They are forwarded to the semantic judge.
func (e *Engine) SoftViolations(ctx context.Context, result *tribunal.Result, constraints []tribunal.Constraint) []tribunal.Constraint {
	var violated []tribunal.Constraint
	for _, c := range constraints {
		if c.Type != tribunal.ConstraintSoft {
			continue
		}
		if matches(ctx, c.ID, c.Predicate, result) {
			violated = append(violated, c)
		}
	}
	return violated
}

// matches treats a failing or panicking predicate as a non-match.
func matches(ctx context.Context, id string, p predicate.Predicate, result *tribunal.Result) bool {
	if p == nil {
		return false
	}
	ok, err := predicate.Eval(p, result)
	if err != nil {
		ctxlog.From(ctx).Warn("predicate evaluation failed, treated as non-matching",
			"id", id,
			"predicate", p.String(),
			"error", err,
		)
		return false
	}
	return ok
}

func resultID(r *tribunal.Result) string {
	if r == nil {
		return ""
	}
	return r.ID
}
