package decisionlog_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/decisionlog"
	"github.com/m-mizutani/tribunal/decisionlog/sqlite"
)

func logs(t *testing.T) map[string]decisionlog.Log {
	l, db, err := sqlite.Open(":memory:")
	gt.NoError(t, err).Required()
	t.Cleanup(func() { _ = db.Close() })

	return map[string]decisionlog.Log{
		"memory": decisionlog.NewMemory(),
		"sqlite": l,
	}
}

func modelRecord(goalType string, action tribunal.Action, confidence float64) decisionlog.Record {
	return decisionlog.Record{
		GoalID:   "g1",
		GoalType: goalType,
		Judgment: tribunal.Judgment{
			Action:     tribunal.ActionEscalate,
			Confidence: confidence,
			Reasoning:  "confidence below threshold",
			Source:     tribunal.SourceModel,
		},
		ModelJudgment: &tribunal.Judgment{
			Action:     action,
			Confidence: confidence,
			Reasoning:  "looks fine",
			Source:     tribunal.SourceModel,
		},
		Escalated: true,
	}
}

func TestAppendAndQuery(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := log.Append(ctx, modelRecord("summary", tribunal.ActionAccept, 0.6))
			gt.NoError(t, err).Required()
			gt.Equal(t, first.Seq, uint64(1))
			gt.False(t, first.Timestamp.IsZero())

			second, err := log.Append(ctx, decisionlog.Record{
				GoalID:      "g1",
				GoalType:    "summary",
				Judgment:    tribunal.HumanDecision{Action: tribunal.ActionRetry, Reasoning: "missing section"}.Judgment(),
				ResolvesSeq: first.Seq,
			})
			gt.NoError(t, err).Required()
			gt.N(t, second.Seq).Greater(first.Seq)

			_, err = log.Append(ctx, decisionlog.Record{
				GoalID:   "g2",
				GoalType: "code",
				Judgment: tribunal.Judgment{Action: tribunal.ActionAccept, Confidence: 1, Reasoning: "rule matched: ok", Source: tribunal.SourceRule},
			})
			gt.NoError(t, err).Required()

			all, err := log.Query(ctx, decisionlog.Filter{})
			gt.NoError(t, err)
			gt.A(t, all).Length(3)
			gt.Equal(t, all[0].ModelJudgment.Action, tribunal.ActionAccept)
			gt.Equal(t, all[0].ModelJudgment.Confidence, 0.6)
			gt.Nil(t, all[2].ModelJudgment)

			escalated, err := log.Query(ctx, decisionlog.Filter{Escalated: true})
			gt.NoError(t, err)
			gt.A(t, escalated).Length(1)

			resolutions, err := log.Query(ctx, decisionlog.Filter{Resolutions: true})
			gt.NoError(t, err)
			gt.A(t, resolutions).Length(1)
			gt.Equal(t, resolutions[0].ResolvesSeq, first.Seq)
			gt.Equal(t, resolutions[0].Judgment.Source, tribunal.SourceHuman)

			byType, err := log.Query(ctx, decisionlog.Filter{GoalType: "code", Source: tribunal.SourceRule})
			gt.NoError(t, err)
			gt.A(t, byType).Length(1)

			limited, err := log.Query(ctx, decisionlog.Filter{AfterSeq: first.Seq, Limit: 1})
			gt.NoError(t, err)
			gt.A(t, limited).Length(1)
			gt.Equal(t, limited[0].Seq, second.Seq)
		})
	}
}

func TestRecordsAreImmutable(t *testing.T) {
	log := decisionlog.NewMemory()
	ctx := context.Background()

	rec, err := log.Append(ctx, modelRecord("summary", tribunal.ActionAccept, 0.6))
	gt.NoError(t, err).Required()
	rec.ModelJudgment.Action = tribunal.ActionReplan

	got, err := log.Query(ctx, decisionlog.Filter{})
	gt.NoError(t, err)
	gt.Equal(t, got[0].ModelJudgment.Action, tribunal.ActionAccept)
}

func TestAppendRejectsInvalidRecord(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			_, err := log.Append(context.Background(), decisionlog.Record{
				GoalID:   "g1",
				Judgment: tribunal.Judgment{Action: "SKIP", Source: tribunal.SourceRule},
			})
			gt.True(t, errors.Is(err, decisionlog.ErrInvalidRecord))
		})
	}
}

func TestConcurrentAppend(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := log.Append(ctx, modelRecord("summary", tribunal.ActionAccept, 0.5))
					gt.NoError(t, err)
				}()
			}
			wg.Wait()

			all, err := log.Query(ctx, decisionlog.Filter{})
			gt.NoError(t, err)
			gt.A(t, all).Length(20)
			for i, rec := range all {
				gt.Equal(t, rec.Seq, uint64(i+1))
			}
		})
	}
}
