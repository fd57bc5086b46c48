package judge_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/judge"
	"github.com/m-mizutani/tribunal/llm"
	"github.com/m-mizutani/tribunal/predicate"
)

type modelJudgeFunc func(ctx context.Context, req tribunal.JudgeRequest) (*tribunal.Verdict, error)

func (f modelJudgeFunc) Judge(ctx context.Context, req tribunal.JudgeRequest) (*tribunal.Verdict, error) {
	return f(ctx, req)
}

func sampleGoal() tribunal.Goal {
	return tribunal.Goal{
		ID:          "summarize",
		Name:        "Summarize the incident report",
		Description: "Produce a three paragraph summary",
		Criteria: []tribunal.SuccessCriterion{
			{ID: "mentions-root-cause", Description: "mentions root cause", Metric: tribunal.MetricOutputContains, Target: "root cause", Weight: 1},
			{ID: "tone", Description: "neutral tone", Metric: tribunal.MetricLLMJudge, Weight: 1},
		},
	}
}

func TestJudgeEvaluate(t *testing.T) {
	var seen tribunal.JudgeRequest
	j := judge.New(modelJudgeFunc(func(ctx context.Context, req tribunal.JudgeRequest) (*tribunal.Verdict, error) {
		seen = req
		return &tribunal.Verdict{Action: tribunal.ActionAccept, Confidence: 0.91, Reasoning: "complete"}, nil
	}))

	soft := []tribunal.Constraint{{ID: "short", Type: tribunal.ConstraintSoft, Predicate: predicate.MustField("output", predicate.OpExists, nil)}}
	result := tribunal.NewResult("s1", map[string]any{"output": "the root cause was a full disk"})

	got, err := j.Evaluate(context.Background(), sampleGoal(), result, soft)
	gt.NoError(t, err)
	gt.Equal(t, got, tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: 0.91, Reasoning: "complete", Source: tribunal.SourceModel})

	gt.A(t, seen.SoftViolations).Length(1)
	gt.Equal(t, seen.Criteria.Score, 1.0)
	gt.Equal(t, seen.Criteria.Coverage, 0.5)
}

func TestJudgeUnavailable(t *testing.T) {
	result := tribunal.NewResult("s1", map[string]any{"output": "x"})

	testCases := map[string]tribunal.ModelJudge{
		"transport error": modelJudgeFunc(func(context.Context, tribunal.JudgeRequest) (*tribunal.Verdict, error) {
			return nil, errors.New("connection reset")
		}),
		"nil verdict": modelJudgeFunc(func(context.Context, tribunal.JudgeRequest) (*tribunal.Verdict, error) {
			return nil, nil
		}),
		"abort verdict": modelJudgeFunc(func(context.Context, tribunal.JudgeRequest) (*tribunal.Verdict, error) {
			return &tribunal.Verdict{Action: tribunal.ActionAbort, Confidence: 0.9}, nil
		}),
		"confidence out of range": modelJudgeFunc(func(context.Context, tribunal.JudgeRequest) (*tribunal.Verdict, error) {
			return &tribunal.Verdict{Action: tribunal.ActionAccept, Confidence: 1.5}, nil
		}),
		"confidence NaN": modelJudgeFunc(func(context.Context, tribunal.JudgeRequest) (*tribunal.Verdict, error) {
			return &tribunal.Verdict{Action: tribunal.ActionAccept, Confidence: math.NaN()}, nil
		}),
		"no model": nil,
	}

	for name, model := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := judge.New(model).Evaluate(context.Background(), sampleGoal(), result, nil)
			gt.True(t, errors.Is(err, tribunal.ErrJudgeUnavailable))
		})
	}
}

func TestLLMJudge(t *testing.T) {
	var captured llm.Request
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		captured = req
		return "Sure.\n```json\n{\"action\": \"retry\", \"confidence\": 0.42, \"reasoning\": \"missing root cause\"}\n```", nil
	})

	model, err := judge.NewLLM(completer)
	gt.NoError(t, err).Required()

	result := tribunal.NewResult("s1", map[string]any{"output": "the disk was full"})
	goal := sampleGoal()
	verdict, err := model.Judge(context.Background(), tribunal.JudgeRequest{
		Goal:     goal,
		Result:   result,
		Criteria: tribunal.AssessCriteria(goal, result),
	})
	gt.NoError(t, err).Required()
	gt.Equal(t, verdict.Action, tribunal.ActionRetry)
	gt.Equal(t, verdict.Confidence, 0.42)
	gt.Equal(t, verdict.Reasoning, "missing root cause")

	gt.True(t, captured.JSON)
	gt.S(t, captured.Prompt).Contains("Summarize the incident report")
	gt.S(t, captured.Prompt).Contains("[mentions-root-cause] mentions root cause (metric: output_contains, weight: 1.00) -> NOT satisfied")
	gt.S(t, captured.Prompt).Contains("the disk was full")
}

func TestLLMJudgeMalformed(t *testing.T) {
	responses := map[string]string{
		"no json":            "I think it is fine.",
		"unknown action":     `{"action": "IGNORE", "confidence": 0.9, "reasoning": "x"}`,
		"abort not allowed":  `{"action": "ABORT", "confidence": 0.9, "reasoning": "x"}`,
		"missing confidence": `{"action": "ACCEPT", "reasoning": "x"}`,
		"confidence range":   `{"action": "ACCEPT", "confidence": 7, "reasoning": "x"}`,
	}

	for name, response := range responses {
		t.Run(name, func(t *testing.T) {
			model, err := judge.NewLLM(llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
				return response, nil
			}))
			gt.NoError(t, err).Required()

			_, err = model.Judge(context.Background(), tribunal.JudgeRequest{Goal: sampleGoal(), Result: tribunal.NewResult("s1", nil)})
			gt.True(t, errors.Is(err, judge.ErrMalformedVerdict))

			_, err = judge.New(model).Evaluate(context.Background(), sampleGoal(), tribunal.NewResult("s1", nil), nil)
			gt.True(t, errors.Is(err, tribunal.ErrJudgeUnavailable))
		})
	}
}

func TestLLMJudgeCustomSystemPrompt(t *testing.T) {
	var system string
	model, err := judge.NewLLM(llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		system = req.System
		return `{"action":"ACCEPT","confidence":1,"reasoning":"ok"}`, nil
	}), judge.WithSystemPrompt("be lenient"))
	gt.NoError(t, err).Required()

	_, err = model.Judge(context.Background(), tribunal.JudgeRequest{Goal: sampleGoal()})
	gt.NoError(t, err)
	gt.True(t, strings.HasPrefix(system, "be lenient"))
}
