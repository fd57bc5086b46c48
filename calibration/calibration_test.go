package calibration_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/calibration"
	"github.com/m-mizutani/tribunal/decisionlog"
	"github.com/m-mizutani/tribunal/decisionlog/sqlite"
	"github.com/m-mizutani/tribunal/evaluator"
	"github.com/m-mizutani/tribunal/internal"
)

func logs(t *testing.T) map[string]decisionlog.Log {
	l, err := sqlite.New(internal.OpenTestDB(t))
	gt.NoError(t, err).Required()
	return map[string]decisionlog.Log{
		"memory": decisionlog.NewMemory(),
		"sqlite": l,
	}
}

// escalate appends a low-confidence escalation and, when resolver is not
// empty, its resolution.
func escalate(t *testing.T, ctx context.Context, log decisionlog.Log, goalType string, confidence float64, modelAction, decided tribunal.Action, resolver tribunal.Source) {
	t.Helper()
	rec, err := log.Append(ctx, decisionlog.Record{
		GoalID:   "g-" + goalType,
		GoalType: goalType,
		Judgment: tribunal.Judgment{
			Action:     tribunal.ActionEscalate,
			Confidence: confidence,
			Reasoning:  evaluator.ReasonLowConfidence,
			Source:     tribunal.SourceModel,
		},
		ModelJudgment: &tribunal.Judgment{
			Action:     modelAction,
			Confidence: confidence,
			Reasoning:  "model reasoning",
			Source:     tribunal.SourceModel,
		},
		Escalated: true,
	})
	gt.NoError(t, err).Required()

	if resolver == "" {
		return
	}
	_, err = log.Append(ctx, decisionlog.Record{
		GoalID:   rec.GoalID,
		GoalType: goalType,
		Judgment: tribunal.Judgment{
			Action:     decided,
			Confidence: 1.0,
			Reasoning:  "resolved",
			Source:     resolver,
		},
		ResolvesSeq: rec.Seq,
	})
	gt.NoError(t, err).Required()
}

func seed(t *testing.T, ctx context.Context, log decisionlog.Log) {
	accept, retry := tribunal.ActionAccept, tribunal.ActionRetry
	for i := range 10 {
		escalate(t, ctx, log, "ops", 0.95, accept, accept, tribunal.SourceHuman)
		// one disagreement in the 0.7 bucket
		decided := accept
		if i == 0 {
			decided = retry
		}
		escalate(t, ctx, log, "ops", 0.75, accept, decided, tribunal.SourceHuman)
		// half right in the 0.5 bucket
		decided = accept
		if i%2 == 0 {
			decided = retry
		}
		escalate(t, ctx, log, "ops", 0.55, accept, decided, tribunal.SourceHuman)
	}

	for range 3 {
		escalate(t, ctx, log, "db", 0.85, accept, accept, tribunal.SourceHuman)
	}

	// never paired: unresolved, resolved by timeout, or a model that deferred
	escalate(t, ctx, log, "ops", 0.35, accept, "", "")
	escalate(t, ctx, log, "ops", 0.35, accept, tribunal.ActionAbort, tribunal.SourceRule)
	escalate(t, ctx, log, "ops", 0.35, tribunal.ActionEscalate, accept, tribunal.SourceHuman)
}

func TestSamples(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := internal.TestContext()
			seed(t, ctx, log)

			tracker, err := calibration.New(log)
			gt.NoError(t, err).Required()

			samples, err := tracker.Samples(ctx)
			gt.NoError(t, err)
			gt.A(t, samples).Length(33)

			wrong := 0
			for _, s := range samples {
				gt.True(t, s.ResolutionSeq > s.EscalatedSeq)
				if !s.Correct {
					wrong++
					gt.Equal(t, s.HumanAction, tribunal.ActionRetry)
				}
			}
			gt.Equal(t, wrong, 6)
		})
	}
}

func TestHistogram(t *testing.T) {
	ctx := internal.TestContext()
	log := decisionlog.NewMemory()
	seed(t, ctx, log)

	tracker, err := calibration.New(log)
	gt.NoError(t, err).Required()

	hists, err := tracker.Histograms(ctx)
	gt.NoError(t, err).Required()
	gt.Equal(t, len(hists), 2)

	ops := hists["ops"]
	gt.Value(t, ops).NotNil()
	if ops == nil {
		return
	}
	gt.Equal(t, ops.Samples, 30)
	gt.Equal(t, ops.Buckets[9].Samples, 10)
	gt.Equal(t, ops.Buckets[9].Accuracy, 1.0)
	gt.Equal(t, ops.Buckets[7].Correct, 9)
	gt.Equal(t, ops.Buckets[5].Accuracy, 0.5)
	gt.Equal(t, ops.Buckets[3].Samples, 0)
	gt.Equal(t, ops.Buckets[7].Lower, 0.7)
	gt.Equal(t, ops.Buckets[7].Upper, 0.8)
}

func TestPropose(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := internal.TestContext()
			seed(t, ctx, log)

			eval := evaluator.New(nil, nil, evaluator.WithThreshold("ops", 0.9))
			tracker, err := calibration.New(log,
				calibration.WithMinSamples(10),
				calibration.WithThresholds(eval),
			)
			gt.NoError(t, err).Required()

			proposals, err := tracker.Propose(ctx)
			gt.NoError(t, err).Required()
			gt.A(t, proposals).Length(2)

			db := proposals[0]
			gt.Equal(t, db.GoalType, "db")
			gt.False(t, db.Sufficient)
			gt.Equal(t, db.Current, evaluator.DefaultConfidenceThreshold)
			gt.Equal(t, db.Reason, "not enough resolved escalations")

			ops := proposals[1]
			gt.Equal(t, ops.GoalType, "ops")
			gt.True(t, ops.Sufficient)
			gt.Equal(t, ops.Current, 0.9)
			gt.Equal(t, ops.Recommended, 0.7)
			gt.Equal(t, ops.Samples, 20)
			gt.Equal(t, ops.Accuracy, 0.95)
			gt.A(t, ops.Buckets).Length(calibration.BucketCount)

			// proposals leave the live thresholds alone
			gt.Equal(t, eval.Threshold("ops"), 0.9)
		})
	}
}

func TestProposeStricterTarget(t *testing.T) {
	ctx := internal.TestContext()
	log := decisionlog.NewMemory()
	seed(t, ctx, log)

	tracker, err := calibration.New(log, calibration.WithTarget(0.99), calibration.WithMinSamples(10))
	gt.NoError(t, err).Required()

	proposals, err := tracker.Propose(ctx)
	gt.NoError(t, err).Required()
	gt.Equal(t, proposals[1].Recommended, 0.9)
	gt.Equal(t, proposals[1].Samples, 10)

	tracker, err = calibration.New(log, calibration.WithTarget(0.99), calibration.WithMinSamples(15))
	gt.NoError(t, err).Required()
	proposals, err = tracker.Propose(ctx)
	gt.NoError(t, err).Required()
	gt.False(t, proposals[1].Sufficient)
	gt.Equal(t, proposals[1].Reason, "no confidence range meets the target with enough samples")
}

func TestInvalidTarget(t *testing.T) {
	_, err := calibration.New(decisionlog.NewMemory(), calibration.WithTarget(1.5))
	gt.Error(t, err)
}
