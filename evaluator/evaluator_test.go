package evaluator_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/decisionlog"
	"github.com/m-mizutani/tribunal/evaluator"
	"github.com/m-mizutani/tribunal/judge"
	"github.com/m-mizutani/tribunal/predicate"
	"github.com/m-mizutani/tribunal/rule"
)

type judgeMock struct {
	calls    int
	judgment tribunal.Judgment
	err      error
}

func (m *judgeMock) Evaluate(ctx context.Context, goal tribunal.Goal, result *tribunal.Result, soft []tribunal.Constraint) (tribunal.Judgment, error) {
	m.calls++
	return m.judgment, m.err
}

type modelJudgeFunc func(ctx context.Context, req tribunal.JudgeRequest) (*tribunal.Verdict, error)

func (f modelJudgeFunc) Judge(ctx context.Context, req tribunal.JudgeRequest) (*tribunal.Verdict, error) {
	return f(ctx, req)
}

type brokenLog struct{}

func (brokenLog) Append(ctx context.Context, rec decisionlog.Record) (decisionlog.Record, error) {
	return decisionlog.Record{}, goerr.Wrap(decisionlog.ErrAppendFailed, "disk full")
}

func (brokenLog) Query(ctx context.Context, f decisionlog.Filter) ([]decisionlog.Record, error) {
	return nil, nil
}

func deployGoal() tribunal.Goal {
	return tribunal.Goal{
		ID:   "deploy",
		Name: "Deploy service",
		Type: "deploy",
		Constraints: []tribunal.Constraint{
			{
				ID:        "no-prod-writes",
				Type:      tribunal.ConstraintHard,
				Predicate: predicate.MustField("logs", predicate.OpContains, "DROP TABLE"),
			},
		},
	}
}

func TestHardConstraintShortCircuitsJudge(t *testing.T) {
	ctx := context.Background()
	judge := &judgeMock{judgment: tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: 0.99, Source: tribunal.SourceModel}}
	log := decisionlog.NewMemory()
	eval := evaluator.New(nil, judge, evaluator.WithDecisionLog(log))

	result := tribunal.NewResult("s1", map[string]any{"logs": []any{"connecting", "DROP TABLE users"}})
	rec, err := eval.Decide(ctx, evaluator.Input{Goal: deployGoal(), Result: result, EpisodeID: "ep1"})
	gt.NoError(t, err).Required()

	gt.Equal(t, rec.Judgment.Action, tribunal.ActionEscalate)
	gt.Equal(t, rec.Judgment.Source, tribunal.SourceRule)
	gt.Equal(t, rec.Judgment.Confidence, 1.0)
	gt.Equal(t, rec.Judgment.Reasoning, "hard constraint violated: no-prod-writes")
	gt.Equal(t, rec.Violation, "no-prod-writes")
	gt.True(t, rec.Escalated)
	gt.Equal(t, rec.StepID, "s1")
	gt.Equal(t, rec.ResultRef, result.ID)
	gt.Equal(t, judge.calls, 0)

	records, err := log.Query(ctx, decisionlog.Filter{})
	gt.NoError(t, err)
	gt.A(t, records).Length(1)
}

func TestRuleDecidesWithoutJudge(t *testing.T) {
	engine, err := rule.New(rule.Rule{
		ID:     "timeout-retry",
		Action: tribunal.ActionRetry,
		When:   predicate.MustField("status", predicate.OpEq, "timeout"),
	})
	gt.NoError(t, err).Required()

	judge := &judgeMock{}
	eval := evaluator.New(engine, judge)

	got, err := eval.Evaluate(context.Background(), deployGoal(), tribunal.NewResult("s1", map[string]any{"status": "timeout"}))
	gt.NoError(t, err)
	gt.Equal(t, got, tribunal.Judgment{Action: tribunal.ActionRetry, Confidence: 1, Reasoning: "rule matched: timeout-retry", Source: tribunal.SourceRule})
	gt.Equal(t, judge.calls, 0)
}

func TestJudgeAboveThreshold(t *testing.T) {
	judge := &judgeMock{judgment: tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: 0.92, Reasoning: "looks right", Source: tribunal.SourceModel}}
	log := decisionlog.NewMemory()
	eval := evaluator.New(nil, judge, evaluator.WithDecisionLog(log), evaluator.WithThreshold("deploy", 0.8))

	rec, err := eval.Decide(context.Background(), evaluator.Input{Goal: deployGoal(), Result: tribunal.NewResult("s1", map[string]any{"logs": "ok"})})
	gt.NoError(t, err).Required()
	gt.Equal(t, rec.Judgment.Action, tribunal.ActionAccept)
	gt.Equal(t, rec.Judgment.Source, tribunal.SourceModel)
	gt.Equal(t, rec.Judgment.Confidence, 0.92)
	gt.False(t, rec.Escalated)
	gt.Nil(t, rec.ModelJudgment)
	gt.Equal(t, rec.GoalType, "deploy")
	gt.Equal(t, judge.calls, 1)
}

func TestLowConfidenceEscalates(t *testing.T) {
	model := tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: 0.55, Reasoning: "probably fine", Source: tribunal.SourceModel}
	eval := evaluator.New(nil, &judgeMock{judgment: model})

	rec, err := eval.Decide(context.Background(), evaluator.Input{Goal: deployGoal(), Result: tribunal.NewResult("s1", nil)})
	gt.NoError(t, err).Required()

	gt.Equal(t, rec.Judgment, tribunal.Judgment{
		Action:     tribunal.ActionEscalate,
		Confidence: 0.55,
		Reasoning:  "confidence below threshold",
		Source:     tribunal.SourceModel,
	})
	gt.True(t, rec.Escalated)
	gt.V(t, rec.ModelJudgment).NotNil()
	if rec.ModelJudgment != nil {
		gt.Equal(t, *rec.ModelJudgment, model)
	}
}

func TestNaNConfidenceEscalates(t *testing.T) {
	nan := modelJudgeFunc(func(ctx context.Context, req tribunal.JudgeRequest) (*tribunal.Verdict, error) {
		return &tribunal.Verdict{Action: tribunal.ActionAccept, Confidence: math.NaN(), Reasoning: "fine"}, nil
	})

	testCases := map[string]evaluator.SemanticJudge{
		"semantic judge": judge.New(nan),
		"custom judge":   &judgeMock{judgment: tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: math.NaN(), Source: tribunal.SourceModel}},
	}

	for name, j := range testCases {
		t.Run(name, func(t *testing.T) {
			log := decisionlog.NewMemory()
			eval := evaluator.New(nil, j, evaluator.WithDecisionLog(log))

			rec, err := eval.Decide(context.Background(), evaluator.Input{Goal: deployGoal(), Result: tribunal.NewResult("s1", nil)})
			gt.NoError(t, err).Required()
			gt.Equal(t, rec.Judgment, tribunal.Judgment{
				Action:     tribunal.ActionEscalate,
				Confidence: 0,
				Reasoning:  evaluator.ReasonJudgeUnavailable,
				Source:     tribunal.SourceRule,
			})
			gt.True(t, rec.Escalated)

			records, err := log.Query(context.Background(), decisionlog.Filter{})
			gt.NoError(t, err)
			gt.A(t, records).Length(1)
		})
	}
}

func TestThresholdPerGoalType(t *testing.T) {
	judge := &judgeMock{judgment: tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: 0.75, Source: tribunal.SourceModel}}
	eval := evaluator.New(nil, judge,
		evaluator.WithDefaultThreshold(0.9),
		evaluator.WithThreshold("lenient", 0.7),
	)

	gt.Equal(t, eval.Threshold("lenient"), 0.7)
	gt.Equal(t, eval.Threshold("strict"), 0.9)

	lenient, err := eval.Evaluate(context.Background(), tribunal.Goal{ID: "g1", Type: "lenient"}, tribunal.NewResult("s1", nil))
	gt.NoError(t, err)
	gt.Equal(t, lenient.Action, tribunal.ActionAccept)

	strict, err := eval.Evaluate(context.Background(), tribunal.Goal{ID: "g2", Type: "strict"}, tribunal.NewResult("s1", nil))
	gt.NoError(t, err)
	gt.Equal(t, strict.Action, tribunal.ActionEscalate)
}

func TestJudgeUnavailableEscalates(t *testing.T) {
	testCases := map[string]evaluator.SemanticJudge{
		"unavailable": &judgeMock{err: goerr.Wrap(tribunal.ErrJudgeUnavailable, "timeout")},
		"other error": &judgeMock{err: errors.New("boom")},
		"no judge":    nil,
	}

	for name, judge := range testCases {
		t.Run(name, func(t *testing.T) {
			eval := evaluator.New(nil, judge)
			rec, err := eval.Decide(context.Background(), evaluator.Input{Goal: deployGoal(), Result: tribunal.NewResult("s1", nil)})
			gt.NoError(t, err).Required()
			gt.Equal(t, rec.Judgment, tribunal.Judgment{
				Action:     tribunal.ActionEscalate,
				Confidence: 0,
				Reasoning:  "judge unavailable",
				Source:     tribunal.SourceRule,
			})
			gt.True(t, rec.Escalated)
		})
	}
}

func TestOneRecordPerEvaluation(t *testing.T) {
	ctx := context.Background()
	log := decisionlog.NewMemory()
	eval := evaluator.New(nil, &judgeMock{judgment: tribunal.Judgment{Action: tribunal.ActionRetry, Confidence: 0.95, Source: tribunal.SourceModel}}, evaluator.WithDecisionLog(log))

	for i := 0; i < 5; i++ {
		_, err := eval.Decide(ctx, evaluator.Input{Goal: deployGoal(), Result: tribunal.NewResult("s1", nil), EpisodeID: "ep1"})
		gt.NoError(t, err)
	}

	records, err := log.Query(ctx, decisionlog.Filter{EpisodeID: "ep1"})
	gt.NoError(t, err)
	gt.A(t, records).Length(5)
	for i, rec := range records {
		gt.Equal(t, rec.Seq, uint64(i+1))
	}
}

func TestDecisionLogFailure(t *testing.T) {
	eval := evaluator.New(nil, &judgeMock{judgment: tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: 0.99, Source: tribunal.SourceModel}}, evaluator.WithDecisionLog(brokenLog{}))

	got, err := eval.Evaluate(context.Background(), deployGoal(), tribunal.NewResult("s1", nil))
	gt.True(t, errors.Is(err, decisionlog.ErrAppendFailed))
	gt.Equal(t, got.Action, tribunal.ActionAccept)
}
