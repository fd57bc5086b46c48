package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/config"
	"github.com/m-mizutani/tribunal/predicate"
)

const goalDoc = `
goal:
  id: rotate-credentials
  name: Rotate service credentials
  type: ops
  criteria:
    - id: done
      description: reports rotation
      metric: output_contains
      target: rotated
      weight: 2
    - id: count
      metric: custom
      check: {field: keys, op: gte, value: 1}
    - id: tone
      metric: llm_judge
  constraints:
    - id: no-plaintext-password
      description: never log passwords
      type: hard
      when:
        any:
          - {field: logs, op: contains, value: "password="}
          - {field: output, op: contains_code}
  context:
    team: sre
plan:
  - id: rotate
    description: rotate keys
    tool: rotate_keys
    args: {service: api}
  - id: verify
    description: verify new keys
`

func TestLoadGoal(t *testing.T) {
	gf, err := config.LoadGoal(strings.NewReader(goalDoc))
	gt.NoError(t, err).Required()

	goal := gf.Goal
	gt.Equal(t, goal.ID, "rotate-credentials")
	gt.Equal(t, goal.GoalType(), "ops")
	gt.A(t, goal.Criteria).Length(3)
	gt.Equal(t, goal.Criteria[0].Weight, 2.0)
	gt.Equal(t, goal.Criteria[1].Weight, 1.0)
	gt.Equal(t, goal.Criteria[2].Metric, tribunal.MetricLLMJudge)
	gt.Equal(t, goal.Context["team"], any("sre"))

	hard := goal.HardConstraints()
	gt.A(t, hard).Length(1)

	leak := tribunal.NewResult("rotate", map[string]any{"logs": "login password=hunter2"})
	matched, err := predicate.Eval(hard[0].Predicate, leak)
	gt.NoError(t, err)
	gt.True(t, matched)

	report := tribunal.AssessCriteria(goal, tribunal.NewResult("rotate", map[string]any{
		"output": "keys rotated",
		"keys":   3,
	}))
	gt.Equal(t, report.Score, 1.0)

	gt.A(t, gf.Plan).Length(2)
	gt.Equal(t, gf.Plan[0].Tool, "rotate_keys")
	gt.Equal(t, gf.Plan[0].Args["service"], any("api"))
}

func TestLoadGoalInvalid(t *testing.T) {
	testCases := map[string]string{
		"unknown metric":     "goal: {id: g, criteria: [{id: c, metric: bleu}]}",
		"broken predicate":   "goal: {id: g, constraints: [{id: k, type: hard, when: {field: x}}]}",
		"unknown type":       "goal: {id: g, constraints: [{id: k, type: firm, when: {field: x, op: exists}}]}",
		"missing step id":    "goal: {id: g}\nplan: [{description: x}]",
		"duplicated step id": "goal: {id: g}\nplan: [{id: a}, {id: a}]",
	}

	for name, doc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadGoal(strings.NewReader(doc))
			gt.Error(t, err)
		})
	}

	_, err := config.LoadGoal(strings.NewReader("goal: {name: anonymous}"))
	gt.True(t, errors.Is(err, tribunal.ErrInvalidGoal))
}
