package main_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/calibration"
	main "github.com/m-mizutani/tribunal/cmd/tribunal"
	"github.com/m-mizutani/tribunal/decisionlog"
	"github.com/m-mizutani/tribunal/decisionlog/sqlite"
	"github.com/m-mizutani/tribunal/internal"
)

const goalYAML = `
goal:
  id: rotate-credentials
  name: Rotate service credentials
  type: ops
  criteria:
    - {id: done, metric: output_contains, target: rotated}
  constraints:
    - id: no-plaintext-password
      type: hard
      when: {field: logs, op: contains, value: "password="}
plan:
  - {id: rotate, description: rotate keys, tool: rotate_keys}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	gt.NoError(t, os.WriteFile(path, []byte(content), 0600)).Required()
	return path
}

func runApp(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	var out bytes.Buffer
	app := main.NewApp()
	app.Writer = &out
	err := app.Run(internal.TestContext(), append([]string{"tribunal", "--log-level", "error"}, args...))
	return &out, err
}

func TestEvaluateCommand(t *testing.T) {
	goalPath := writeFile(t, "goal.yaml", goalYAML)

	t.Run("hard constraint escalates", func(t *testing.T) {
		resultPath := writeFile(t, "result.json", `{"output": "rotated", "logs": "login password=hunter2"}`)
		out, err := runApp(t, "evaluate", "--goal", goalPath, "--result", resultPath, "--step", "rotate")
		gt.NoError(t, err).Required()

		var rec decisionlog.Record
		gt.NoError(t, json.Unmarshal(out.Bytes(), &rec))
		gt.Equal(t, rec.Judgment.Action, tribunal.ActionEscalate)
		gt.Equal(t, rec.Judgment.Source, tribunal.SourceRule)
		gt.Equal(t, rec.Violation, "no-plaintext-password")
		gt.Equal(t, rec.StepID, "rotate")
		gt.True(t, rec.Escalated)
	})

	t.Run("without a judge undecided results escalate", func(t *testing.T) {
		resultPath := writeFile(t, "result.json", `{"output": "rotated"}`)
		out, err := runApp(t, "evaluate", "--goal", goalPath, "--result", resultPath)
		gt.NoError(t, err).Required()

		var rec decisionlog.Record
		gt.NoError(t, json.Unmarshal(out.Bytes(), &rec))
		gt.Equal(t, rec.Judgment.Action, tribunal.ActionEscalate)
		gt.Equal(t, rec.Judgment.Confidence, 0.0)
		gt.Equal(t, rec.Violation, "")
	})

	t.Run("missing goal file", func(t *testing.T) {
		_, err := runApp(t, "evaluate", "--goal", filepath.Join(t.TempDir(), "none.yaml"), "--result", goalPath)
		gt.Error(t, err)
	})
}

func TestCalibrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tribunal.db")

	log, db, err := sqlite.Open(dbPath)
	gt.NoError(t, err).Required()
	ctx := internal.TestContext()
	for range 3 {
		model := tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: 0.95, Reasoning: "ok", Source: tribunal.SourceModel}
		escalated, err := log.Append(ctx, decisionlog.Record{
			GoalID:        "rotate-credentials",
			GoalType:      "ops",
			Judgment:      tribunal.Judgment{Action: tribunal.ActionEscalate, Confidence: 0.95, Source: tribunal.SourceModel},
			ModelJudgment: &model,
			Escalated:     true,
		})
		gt.NoError(t, err).Required()
		_, err = log.Append(ctx, decisionlog.Record{
			GoalID:      "rotate-credentials",
			GoalType:    "ops",
			Judgment:    tribunal.HumanDecision{Action: tribunal.ActionAccept, Approver: "alice"}.Judgment(),
			ResolvesSeq: escalated.Seq,
		})
		gt.NoError(t, err).Required()
	}
	gt.NoError(t, db.Close()).Required()

	out, err := runApp(t, "--sqlite", dbPath, "calibrate", "--min-samples", "3")
	gt.NoError(t, err).Required()

	var proposals []calibration.Proposal
	gt.NoError(t, json.Unmarshal(out.Bytes(), &proposals))
	gt.A(t, proposals).Length(1)
	gt.Equal(t, proposals[0].GoalType, "ops")
	gt.True(t, proposals[0].Sufficient)
	gt.Equal(t, proposals[0].Recommended, 0.9)
	gt.Equal(t, proposals[0].Current, 0.8)

	t.Run("requires a persistent log", func(t *testing.T) {
		_, err := runApp(t, "calibrate")
		gt.Error(t, err)
	})
}

func TestRunCommandRequiresGoals(t *testing.T) {
	_, err := runApp(t, "run", "--addr", "")
	gt.Error(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	var out bytes.Buffer
	app := main.NewApp()
	app.Writer = &out
	err := app.Run(internal.TestContext(), []string{"tribunal", "--log-level", "loud", "evaluate", "--goal", "x"})
	gt.Error(t, err)
}
