// Package calibration compares model judgments with the human decisions that
// resolved them and proposes confidence thresholds per goal type. It only
// reads the decision log; proposals are never applied automatically.
package calibration

import (
	"context"
	"math"
	"slices"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/decisionlog"
)

const (
	// BucketCount is the number of confidence buckets, each 0.1 wide.
	BucketCount = 10

	DefaultTarget     = 0.95
	DefaultMinSamples = 20
)

// Thresholds reports the confidence threshold currently applied to a goal
// type. *evaluator.Evaluator satisfies it.
type Thresholds interface {
	Threshold(goalType string) float64
}

// Sample is one model judgment paired with the human decision that resolved
// its escalation.
type Sample struct {
	GoalType      string          `json:"goal_type"`
	Confidence    float64         `json:"confidence"`
	ModelAction   tribunal.Action `json:"model_action"`
	HumanAction   tribunal.Action `json:"human_action"`
	Correct       bool            `json:"correct"`
	EscalatedSeq  uint64          `json:"escalated_seq"`
	ResolutionSeq uint64          `json:"resolution_seq"`
}

// Bucket aggregates samples whose confidence lies in [Lower, Upper). The last
// bucket includes 1.0.
type Bucket struct {
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Samples  int     `json:"samples"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Histogram is the accuracy-by-confidence histogram of one goal type.
type Histogram struct {
	GoalType string              `json:"goal_type"`
	Buckets  [BucketCount]Bucket `json:"buckets"`
	Samples  int                 `json:"samples"`
}

func newHistogram(goalType string) *Histogram {
	h := &Histogram{GoalType: goalType}
	for i := range h.Buckets {
		h.Buckets[i].Lower = float64(i) / BucketCount
		h.Buckets[i].Upper = float64(i+1) / BucketCount
	}
	return h
}

func (h *Histogram) add(s Sample) {
	b := &h.Buckets[bucketIndex(s.Confidence)]
	b.Samples++
	if s.Correct {
		b.Correct++
	}
	b.Accuracy = float64(b.Correct) / float64(b.Samples)
	h.Samples++
}

func bucketIndex(confidence float64) int {
	// the epsilon keeps 0.3 out of the 0.2 bucket
	i := int(math.Floor(confidence*BucketCount + 1e-9))
	return min(max(i, 0), BucketCount-1)
}

// Proposal is a recommended threshold for one goal type.
type Proposal struct {
	GoalType string  `json:"goal_type"`
	Current  float64 `json:"current"`
	// Recommended is meaningful only when Sufficient is true.
	Recommended float64 `json:"recommended"`
	Sufficient  bool    `json:"sufficient"`
	Target      float64 `json:"target"`
	// Samples and Accuracy cover the samples at or above Recommended.
	Samples  int      `json:"samples"`
	Accuracy float64  `json:"accuracy"`
	Reason   string   `json:"reason"`
	Buckets  []Bucket `json:"buckets"`
}

// Tracker builds histograms and proposals from a decision log.
type Tracker struct {
	log        decisionlog.Log
	thresholds Thresholds
	target     float64
	minSamples int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTarget sets the accuracy a proposed threshold must reach. Default 0.95.
func WithTarget(target float64) Option {
	return func(t *Tracker) {
		t.target = target
	}
}

// WithMinSamples sets how many samples at or above a threshold are needed
// before it is proposed. Default 20.
func WithMinSamples(n int) Option {
	return func(t *Tracker) {
		t.minSamples = max(n, 1)
	}
}

// WithThresholds sets the live thresholds reported as Proposal.Current.
func WithThresholds(th Thresholds) Option {
	return func(t *Tracker) {
		t.thresholds = th
	}
}

// New creates a Tracker over log.
func New(log decisionlog.Log, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		log:        log,
		target:     DefaultTarget,
		minSamples: DefaultMinSamples,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.target <= 0 || t.target > 1 {
		return nil, goerr.New("calibration target must be in (0, 1]", goerr.V("target", t.target))
	}
	return t, nil
}

// Samples pairs every escalated record carrying a model judgment with the
// human resolution that answered it. Records resolved by a timeout, and model
// judgments that themselves asked for escalation, are skipped.
func (t *Tracker) Samples(ctx context.Context) ([]Sample, error) {
	escalated, err := t.log.Query(ctx, decisionlog.Filter{Escalated: true})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query escalated records")
	}
	resolutions, err := t.log.Query(ctx, decisionlog.Filter{Resolutions: true, Source: tribunal.SourceHuman})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query resolutions")
	}

	bySeq := make(map[uint64]decisionlog.Record, len(escalated))
	for _, rec := range escalated {
		bySeq[rec.Seq] = rec
	}

	var samples []Sample
	for _, res := range resolutions {
		rec, ok := bySeq[res.ResolvesSeq]
		if !ok || rec.ModelJudgment == nil {
			continue
		}
		mj := rec.ModelJudgment
		if mj.Action == tribunal.ActionEscalate {
			continue
		}
		samples = append(samples, Sample{
			GoalType:      rec.GoalType,
			Confidence:    mj.Confidence,
			ModelAction:   mj.Action,
			HumanAction:   res.Judgment.Action,
			Correct:       mj.Action == res.Judgment.Action,
			EscalatedSeq:  rec.Seq,
			ResolutionSeq: res.Seq,
		})
	}

	ctxlog.From(ctx).Debug("collected calibration samples",
		"escalated", len(escalated),
		"resolutions", len(resolutions),
		"samples", len(samples),
	)
	return samples, nil
}

// Histograms returns one histogram per goal type found in the log.
func (t *Tracker) Histograms(ctx context.Context) (map[string]*Histogram, error) {
	samples, err := t.Samples(ctx)
	if err != nil {
		return nil, err
	}

	out := map[string]*Histogram{}
	for _, s := range samples {
		h, ok := out[s.GoalType]
		if !ok {
			h = newHistogram(s.GoalType)
			out[s.GoalType] = h
		}
		h.add(s)
	}
	return out, nil
}

// Propose computes a proposal per goal type, ordered by goal type.
func (t *Tracker) Propose(ctx context.Context) ([]Proposal, error) {
	hists, err := t.Histograms(ctx)
	if err != nil {
		return nil, err
	}

	types := make([]string, 0, len(hists))
	for goalType := range hists {
		types = append(types, goalType)
	}
	slices.Sort(types)

	proposals := make([]Proposal, 0, len(types))
	for _, goalType := range types {
		p := t.propose(hists[goalType])
		ctxlog.From(ctx).Info("calibration proposal",
			"goal_type", p.GoalType,
			"current", p.Current,
			"recommended", p.Recommended,
			"sufficient", p.Sufficient,
			"samples", p.Samples,
		)
		proposals = append(proposals, p)
	}
	return proposals, nil
}

// propose walks the buckets from the top. The recommendation is the lowest
// lower bound at which the samples at or above it still meet the target; the
// walk stops at the first bucket that breaks it.
func (t *Tracker) propose(h *Histogram) Proposal {
	p := Proposal{
		GoalType: h.GoalType,
		Target:   t.target,
		Buckets:  h.Buckets[:],
	}
	if t.thresholds != nil {
		p.Current = t.thresholds.Threshold(h.GoalType)
	}

	var samples, correct int
	for i := BucketCount - 1; i >= 0; i-- {
		b := h.Buckets[i]
		if b.Samples == 0 {
			continue
		}
		if float64(correct+b.Correct)/float64(samples+b.Samples) < t.target {
			break
		}
		samples += b.Samples
		correct += b.Correct
		if samples >= t.minSamples {
			p.Sufficient = true
			p.Recommended = b.Lower
			p.Samples = samples
			p.Accuracy = float64(correct) / float64(samples)
		}
	}

	switch {
	case p.Sufficient:
		p.Reason = "accuracy at or above the recommended threshold meets the target"
	case h.Samples < t.minSamples:
		p.Reason = "not enough resolved escalations"
	default:
		p.Reason = "no confidence range meets the target with enough samples"
	}
	return p
}
