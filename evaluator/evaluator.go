// Package evaluator combines the rule engine, the semantic judge and the
// confidence policy into one judgment per result, and appends every judgment
// to the decision log.
package evaluator

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/decisionlog"
	"github.com/m-mizutani/tribunal/rule"
)

const (
	DefaultConfidenceThreshold = 0.8

	ReasonLowConfidence    = "confidence below threshold"
	ReasonJudgeUnavailable = "judge unavailable"
)

// SemanticJudge is the model stage of evaluation.
type SemanticJudge interface {
	Evaluate(ctx context.Context, goal tribunal.Goal, result *tribunal.Result, soft []tribunal.Constraint) (tribunal.Judgment, error)
}

// Evaluator triangulates rules, the semantic judge and human escalation.
type Evaluator struct {
	rules      *rule.Engine
	judge      SemanticJudge
	log        decisionlog.Log
	thresholds map[string]float64
	fallback   float64
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithDecisionLog sets where judgments are recorded. Defaults to an in-memory log.
func WithDecisionLog(log decisionlog.Log) Option {
	return func(e *Evaluator) {
		e.log = log
	}
}

// WithThreshold sets the confidence threshold for a goal type.
func WithThreshold(goalType string, threshold float64) Option {
	return func(e *Evaluator) {
		e.thresholds[goalType] = threshold
	}
}

// WithDefaultThreshold sets the threshold for goal types without their own.
func WithDefaultThreshold(threshold float64) Option {
	return func(e *Evaluator) {
		e.fallback = threshold
	}
}

// New creates an Evaluator. A nil rule engine only applies the goal's hard
// constraints; a nil judge escalates everything the rules leave undecided.
func New(rules *rule.Engine, judge SemanticJudge, opts ...Option) *Evaluator {
	e := &Evaluator{
		rules:      rules,
		judge:      judge,
		thresholds: map[string]float64{},
		fallback:   DefaultConfidenceThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = decisionlog.NewMemory()
	}
	return e
}

// Threshold returns the confidence threshold applied to goalType.
func (e *Evaluator) Threshold(goalType string) float64 {
	if t, ok := e.thresholds[goalType]; ok {
		return t
	}
	return e.fallback
}

// DecisionLog returns the log judgments are appended to.
func (e *Evaluator) DecisionLog() decisionlog.Log { return e.log }

// Input identifies the result being evaluated.
type Input struct {
	Goal      tribunal.Goal
	Result    *tribunal.Result
	EpisodeID string
	StepID    string
}

// Evaluate returns the judgment for result. The error is non-nil only when
// the decision log rejected the record; the judgment is still valid then.
func (e *Evaluator) Evaluate(ctx context.Context, goal tribunal.Goal, result *tribunal.Result) (tribunal.Judgment, error) {
	rec, err := e.Decide(ctx, Input{Goal: goal, Result: result})
	return rec.Judgment, err
}

// Decide evaluates the input and returns the appended decision record.
// When appending fails the returned record carries the judgment but no Seq.
func (e *Evaluator) Decide(ctx context.Context, in Input) (decisionlog.Record, error) {
	logger := ctxlog.From(ctx).With("goal_id", in.Goal.ID, "step_id", in.StepID)

	rec := decisionlog.Record{
		GoalID:    in.Goal.ID,
		GoalType:  in.Goal.GoalType(),
		EpisodeID: in.EpisodeID,
		StepID:    in.StepID,
	}
	if in.Result != nil {
		rec.ResultRef = in.Result.ID
		if rec.StepID == "" {
			rec.StepID = in.Result.StepID
		}
	}

	e.judgeResult(ctx, in, &rec)
	logger.Info("evaluated result",
		"action", rec.Judgment.Action,
		"source", rec.Judgment.Source,
		"confidence", rec.Judgment.Confidence,
		"reasoning", rec.Judgment.Reasoning,
	)

	appended, err := e.log.Append(ctx, rec)
	if err != nil {
		logger.Error("failed to append decision record", "error", err)
		return rec, goerr.Wrap(err, "failed to record judgment", goerr.V("goal_id", in.Goal.ID))
	}
	return appended, nil
}

func (e *Evaluator) judgeResult(ctx context.Context, in Input, rec *decisionlog.Record) {
	if j, ok := e.rules.Evaluate(ctx, in.Result, in.Goal.Constraints); ok {
		rec.Judgment = *j
		rec.Escalated = j.Action == tribunal.ActionEscalate
		if id, found := strings.CutPrefix(j.Reasoning, rule.ReasonHardConstraint); found && rec.Escalated {
			rec.Violation = id
		}
		return
	}

	soft := e.rules.SoftViolations(ctx, in.Result, in.Goal.Constraints)

	if e.judge == nil {
		rec.Judgment = unavailable()
		rec.Escalated = true
		return
	}

	j, err := e.judge.Evaluate(ctx, in.Goal, in.Result, soft)
	if err != nil {
		if !errors.Is(err, tribunal.ErrJudgeUnavailable) {
			ctxlog.From(ctx).Warn("unexpected judge error, treated as unavailable", "error", err)
		} else {
			ctxlog.From(ctx).Warn("judge unavailable", "error", err)
		}
		rec.Judgment = unavailable()
		rec.Escalated = true
		return
	}
	if err := j.Validate(); err != nil {
		ctxlog.From(ctx).Warn("judge returned an invalid judgment, treated as unavailable", "error", err)
		rec.Judgment = unavailable()
		rec.Escalated = true
		return
	}

	// NaN never clears the threshold
	if !(j.Confidence >= e.Threshold(in.Goal.GoalType())) {
		model := j
		rec.ModelJudgment = &model
		rec.Judgment = tribunal.Judgment{
			Action:     tribunal.ActionEscalate,
			Confidence: j.Confidence,
			Reasoning:  ReasonLowConfidence,
			Source:     tribunal.SourceModel,
		}
		rec.Escalated = true
		return
	}

	rec.Judgment = j
	rec.Escalated = j.Action == tribunal.ActionEscalate
	if rec.Escalated {
		model := j
		rec.ModelJudgment = &model
	}
}

func unavailable() tribunal.Judgment {
	return tribunal.Judgment{
		Action:     tribunal.ActionEscalate,
		Confidence: 0,
		Reasoning:  ReasonJudgeUnavailable,
		Source:     tribunal.SourceRule,
	}
}
