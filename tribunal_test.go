package tribunal_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/predicate"
)

func TestParseAction(t *testing.T) {
	for _, s := range []string{"ACCEPT", "retry", " Replan ", "escalate", "abort"} {
		a, err := tribunal.ParseAction(s)
		gt.NoError(t, err)
		gt.True(t, a.Valid())
	}

	_, err := tribunal.ParseAction("IGNORE")
	gt.True(t, errors.Is(err, tribunal.ErrInvalidAction))

	t.Run("json", func(t *testing.T) {
		var j tribunal.Judgment
		gt.NoError(t, json.Unmarshal([]byte(`{"action":"replan","confidence":0.4,"source":"model"}`), &j))
		gt.Equal(t, j.Action, tribunal.ActionReplan)

		err := json.Unmarshal([]byte(`{"action":"skip"}`), &j)
		gt.Error(t, err)
	})
}

func TestActionPermissions(t *testing.T) {
	gt.False(t, tribunal.ActionAbort.Automatic())
	gt.True(t, tribunal.ActionEscalate.Automatic())
	gt.False(t, tribunal.ActionEscalate.HumanAllowed())
	gt.True(t, tribunal.ActionAbort.HumanAllowed())

	err := tribunal.HumanDecision{Action: tribunal.ActionEscalate}.Validate()
	gt.True(t, errors.Is(err, tribunal.ErrInvalidDecision))
}

func TestJudgmentValidate(t *testing.T) {
	testCases := []struct {
		name string
		j    tribunal.Judgment
		ok   bool
	}{
		{"valid", tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: 0.9, Source: tribunal.SourceModel}, true},
		{"confidence too high", tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: 1.2, Source: tribunal.SourceModel}, false},
		{"confidence NaN", tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: math.NaN(), Source: tribunal.SourceModel}, false},
		{"unknown source", tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: 1, Source: "oracle"}, false},
		{"model abort", tribunal.Judgment{Action: tribunal.ActionAbort, Confidence: 1, Source: tribunal.SourceModel}, false},
		{"timeout abort", tribunal.Judgment{Action: tribunal.ActionAbort, Confidence: 1, Source: tribunal.SourceRule}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.j.Validate()
			if tc.ok {
				gt.NoError(t, err)
			} else {
				gt.True(t, errors.Is(err, tribunal.ErrInvalidJudgment))
			}
		})
	}
}

func TestGoalValidate(t *testing.T) {
	valid := tribunal.Goal{
		ID: "g1",
		Criteria: []tribunal.SuccessCriterion{
			{ID: "c1", Metric: tribunal.MetricOutputContains, Target: "done", Weight: 1},
		},
		Constraints: []tribunal.Constraint{
			{ID: "k1", Type: tribunal.ConstraintHard, Predicate: predicate.MustField("logs", predicate.OpContains, "password=")},
		},
	}
	gt.NoError(t, valid.Validate())
	gt.Equal(t, valid.GoalType(), tribunal.DefaultGoalType)
	gt.A(t, valid.HardConstraints()).Length(1)
	gt.A(t, valid.SoftConstraints()).Length(0)

	broken := valid
	broken.Constraints = append(broken.Constraints, tribunal.Constraint{ID: "k1", Type: tribunal.ConstraintSoft, Predicate: valid.Constraints[0].Predicate})
	gt.True(t, errors.Is(broken.Validate(), tribunal.ErrInvalidGoal))

	custom := valid
	custom.Criteria = []tribunal.SuccessCriterion{{ID: "c2", Metric: tribunal.MetricCustom, Weight: 1}}
	gt.True(t, errors.Is(custom.Validate(), tribunal.ErrInvalidGoal))
}

func TestAssessCriteria(t *testing.T) {
	goal := tribunal.Goal{
		ID: "g1",
		Criteria: []tribunal.SuccessCriterion{
			{ID: "contains", Metric: tribunal.MetricOutputContains, Target: "summary", Weight: 2},
			{ID: "status", Metric: tribunal.MetricOutputEquals, Path: "status", Target: 200, Weight: 1},
			{ID: "custom", Metric: tribunal.MetricCustom, Check: predicate.MustField("items", predicate.OpGte, 3), Weight: 1},
			{ID: "tone", Metric: tribunal.MetricLLMJudge, Weight: 4},
		},
	}
	result := tribunal.NewResult("s1", map[string]any{
		"output": "here is the summary",
		"status": 500,
		"items":  5,
	})

	report := tribunal.AssessCriteria(goal, result)
	gt.A(t, report.Outcomes).Length(4)
	gt.Equal(t, report.Score, 0.75)
	gt.Equal(t, report.Coverage, 0.5)
	gt.False(t, report.Outcomes[3].Evaluated)

	unmet := report.Unmet()
	gt.A(t, unmet).Length(1)
	gt.Equal(t, unmet[0].ID, "status")
}

func TestFeedbackClone(t *testing.T) {
	fb := tribunal.Feedback{EpisodeID: "e1"}
	failed := fb.FailedStep(tribunal.StepSpec{ID: "s1"})
	failed.Attempts = append(failed.Attempts, tribunal.Attempt{Number: 1, Error: "boom"})

	cloned := fb.Clone()
	cloned.FailedStep(tribunal.StepSpec{ID: "s1"}).Attempts[0].Error = "changed"

	gt.Equal(t, fb.Failed[0].Attempts[0].Error, "boom")
	gt.Equal(t, fb.FailedStep(tribunal.StepSpec{ID: "s1"}), &fb.Failed[0])
}
