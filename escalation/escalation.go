// Package escalation parks episodes that need a human decision. A paused
// episode blocks only its own goroutine in Await; decisions arrive through
// Resume, and an optional timeout resolves the escalation with a configured
// fallback action.
package escalation

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
)

var (
	ErrNotFound        = goerr.New("pending escalation not found")
	ErrInvalidFallback = goerr.New("invalid escalation timeout fallback")
)

// Status is the lifecycle state of a pending escalation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResolved  Status = "resolved"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// ReasonTimeout is the reasoning recorded for a timeout fallback.
const ReasonTimeout = "escalation timed out"

// Context is what a reviewer sees when asked to decide.
type Context struct {
	GoalID   string `json:"goal_id"`
	GoalType string `json:"goal_type"`
	StepID   string `json:"step_id,omitempty"`
	// DecisionSeq is the decision record that escalated. Resolutions point
	// back to it.
	DecisionSeq   uint64             `json:"decision_seq,omitempty"`
	Judgment      tribunal.Judgment  `json:"judgment"`
	ModelJudgment *tribunal.Judgment `json:"model_judgment,omitempty"`
	Result        *tribunal.Result   `json:"result,omitempty"`
	Feedback      *tribunal.Feedback `json:"feedback,omitempty"`
	Reason        string             `json:"reason,omitempty"`
}

// Resolution is how a pending escalation ended.
type Resolution struct {
	Status   Status                  `json:"status"`
	Judgment tribunal.Judgment       `json:"judgment"`
	Decision *tribunal.HumanDecision `json:"decision,omitempty"`
	// RecordSeq is the decision record of the resolution; zero for cancellations.
	RecordSeq  uint64    `json:"record_seq,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Pending is one escalation awaiting or having received a decision.
type Pending struct {
	ID         string      `json:"id"`
	EpisodeID  string      `json:"episode_id"`
	Context    Context     `json:"context"`
	Status     Status      `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	ExpiresAt  time.Time   `json:"expires_at,omitzero"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// Notifier presents a pending escalation to a human. Answers come back
// through Manager.Resume.
type Notifier interface {
	Present(ctx context.Context, p Pending) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, p Pending) error

func (f NotifierFunc) Present(ctx context.Context, p Pending) error { return f(ctx, p) }

// Store persists pending escalations.
type Store interface {
	Save(ctx context.Context, p Pending) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Pending, error)
	// List returns escalations in creation order; an empty status lists all.
	List(ctx context.Context, status Status) ([]Pending, error)
}
