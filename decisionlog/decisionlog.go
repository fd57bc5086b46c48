// Package decisionlog is the append-only audit log of every judgment and
// human decision. Records are immutable once appended; the log assigns a
// monotonically increasing sequence number and the append timestamp.
package decisionlog

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
)

var (
	ErrInvalidRecord = goerr.New("invalid decision record")
	ErrAppendFailed  = goerr.New("failed to append decision record")
)

// Record is one entry of the decision log.
//
// ModelJudgment holds the raw model judgment when the final Judgment was
// derived from it, e.g. an ESCALATE caused by low confidence. ResolvesSeq
// points at the escalated record a human or timeout resolution answers.
type Record struct {
	Seq           uint64             `json:"seq"`
	GoalID        string             `json:"goal_id"`
	GoalType      string             `json:"goal_type"`
	EpisodeID     string             `json:"episode_id,omitempty"`
	StepID        string             `json:"step_id,omitempty"`
	ResultRef     string             `json:"result_ref,omitempty"`
	Judgment      tribunal.Judgment  `json:"judgment"`
	ModelJudgment *tribunal.Judgment `json:"model_judgment,omitempty"`
	Escalated     bool               `json:"escalated"`
	ResolvesSeq   uint64             `json:"resolves_seq,omitempty"`
	Violation     string             `json:"violation,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// Validate checks that the record can be appended.
func (r Record) Validate() error {
	if r.GoalID == "" {
		return goerr.Wrap(ErrInvalidRecord, "goal id is empty")
	}
	if err := r.Judgment.Validate(); err != nil {
		return goerr.Wrap(ErrInvalidRecord, "invalid judgment", goerr.V("error", err.Error()))
	}
	if r.ModelJudgment != nil {
		if err := r.ModelJudgment.Validate(); err != nil {
			return goerr.Wrap(ErrInvalidRecord, "invalid model judgment", goerr.V("error", err.Error()))
		}
	}
	return nil
}

// IsResolution reports whether the record answers an earlier escalation.
func (r Record) IsResolution() bool { return r.ResolvesSeq != 0 }

// Filter selects records. Zero values match everything.
type Filter struct {
	GoalType  string
	EpisodeID string
	Source    tribunal.Source
	// Escalated keeps only records whose judgment escalated.
	Escalated bool
	// Resolutions keeps only records that resolve an escalation.
	Resolutions bool
	AfterSeq    uint64
	// Limit caps the number of records returned; 0 means no limit.
	Limit int
}

// Match reports whether r passes the filter.
func (f Filter) Match(r Record) bool {
	if f.GoalType != "" && r.GoalType != f.GoalType {
		return false
	}
	if f.EpisodeID != "" && r.EpisodeID != f.EpisodeID {
		return false
	}
	if f.Source != "" && r.Judgment.Source != f.Source {
		return false
	}
	if f.Escalated && !r.Escalated {
		return false
	}
	if f.Resolutions && !r.IsResolution() {
		return false
	}
	if r.Seq <= f.AfterSeq {
		return false
	}
	return true
}

// Log is an append-only store of decision records. Query returns records in
// ascending sequence order.
type Log interface {
	Append(ctx context.Context, rec Record) (Record, error)
	Query(ctx context.Context, filter Filter) ([]Record, error)
}
