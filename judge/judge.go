// Package judge implements the semantic stage of evaluation. A Judge wraps a
// tribunal.ModelJudge and turns its verdict into a model-sourced Judgment;
// LLM is a ModelJudge that asks a language model for a JSON verdict.
package judge

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
)

// Judge produces model judgments. It never thresholds confidence; that is
// the caller's policy.
type Judge struct {
	model tribunal.ModelJudge
}

// New creates a Judge on top of model. A nil model makes every evaluation
// unavailable.
func New(model tribunal.ModelJudge) *Judge {
	return &Judge{model: model}
}

// Evaluate asks the model for a verdict on result. Transport failures,
// malformed verdicts and out-of-range confidences are all reported as
// tribunal.ErrJudgeUnavailable.
func (j *Judge) Evaluate(ctx context.Context, goal tribunal.Goal, result *tribunal.Result, soft []tribunal.Constraint) (tribunal.Judgment, error) {
	if j == nil || j.model == nil {
		return tribunal.Judgment{}, goerr.Wrap(tribunal.ErrJudgeUnavailable, "no model judge configured")
	}

	verdict, err := j.model.Judge(ctx, tribunal.JudgeRequest{
		Goal:           goal,
		Result:         result,
		SoftViolations: soft,
		Criteria:       tribunal.AssessCriteria(goal, result),
	})
	if err != nil {
		if errors.Is(err, tribunal.ErrJudgeUnavailable) {
			return tribunal.Judgment{}, err
		}
		return tribunal.Judgment{}, goerr.Wrap(tribunal.ErrJudgeUnavailable, "model judge failed",
			goerr.V("goal_id", goal.ID),
			goerr.V("error", err.Error()))
	}
	if verdict == nil {
		return tribunal.Judgment{}, goerr.Wrap(tribunal.ErrJudgeUnavailable, "model judge returned no verdict", goerr.V("goal_id", goal.ID))
	}

	judgment := tribunal.Judgment{
		Action:     verdict.Action,
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
		Source:     tribunal.SourceModel,
	}
	if !judgment.Action.Automatic() {
		return tribunal.Judgment{}, goerr.Wrap(tribunal.ErrJudgeUnavailable, "model judge returned a forbidden action", goerr.V("action", verdict.Action))
	}
	if err := judgment.Validate(); err != nil {
		return tribunal.Judgment{}, goerr.Wrap(tribunal.ErrJudgeUnavailable, "model judge returned a malformed verdict", goerr.V("error", err.Error()))
	}

	return judgment, nil
}
