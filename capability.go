package tribunal

import (
	"context"
	"maps"
	"slices"
	"time"
)

// StepSpec describes one step of a plan.
type StepSpec struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description" yaml:"description"`
	Tool        string         `json:"tool,omitempty" yaml:"tool,omitempty"`
	Args        map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// Attempt is one failed run of a step.
type Attempt struct {
	Number int       `json:"number"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
}

// StepContext is handed to a Worker together with the step to run.
type StepContext struct {
	EpisodeID string    `json:"episode_id"`
	Goal      Goal      `json:"goal"`
	Attempt   int       `json:"attempt"`
	Previous  []Attempt `json:"previous,omitempty"`
}

// CompletedStep is a step whose result was accepted.
type CompletedStep struct {
	Step     StepSpec       `json:"step"`
	ResultID string         `json:"result_id"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// FailedStep collects every failed attempt of a step. Retries counts the
// retries the step consumed, which is one less than its attempts once the
// retry bound is exceeded.
type FailedStep struct {
	Step     StepSpec  `json:"step"`
	Retries  int       `json:"retries"`
	Attempts []Attempt `json:"attempts"`
}

// Violation records a hard constraint that fired during an episode.
type Violation struct {
	ConstraintID string `json:"constraint_id"`
	StepID       string `json:"step_id"`
	Reasoning    string `json:"reasoning"`
}

// Feedback is the accumulated context of an episode that a Planner uses to
// produce a revised plan.
type Feedback struct {
	EpisodeID      string          `json:"episode_id"`
	Goal           Goal            `json:"-"`
	Completed      []CompletedStep `json:"completed,omitempty"`
	Failed         []FailedStep    `json:"failed,omitempty"`
	Remaining      []StepSpec      `json:"remaining,omitempty"`
	Violations     []Violation     `json:"violations,omitempty"`
	PlanningErrors []string        `json:"planning_errors,omitempty"`
	Context        map[string]any  `json:"context,omitempty"`
}

// Clone returns a copy whose slices can be modified independently.
func (f Feedback) Clone() Feedback {
	out := f
	out.Completed = slices.Clone(f.Completed)
	out.Failed = make([]FailedStep, len(f.Failed))
	for i, fs := range f.Failed {
		fs.Attempts = slices.Clone(fs.Attempts)
		out.Failed[i] = fs
	}
	out.Remaining = slices.Clone(f.Remaining)
	out.Violations = slices.Clone(f.Violations)
	out.PlanningErrors = slices.Clone(f.PlanningErrors)
	out.Context = maps.Clone(f.Context)
	return out
}

// FailedStep returns the failure record of the step, creating one if needed.
func (f *Feedback) FailedStep(step StepSpec) *FailedStep {
	for i := range f.Failed {
		if f.Failed[i].Step.ID == step.ID {
			return &f.Failed[i]
		}
	}
	f.Failed = append(f.Failed, FailedStep{Step: step})
	return &f.Failed[len(f.Failed)-1]
}

// Worker executes one step of a plan. Failures wrap ErrExecution.
type Worker interface {
	RunStep(ctx context.Context, step StepSpec, sc StepContext) (*Result, error)
}

// Planner produces a revised sequence of steps for the remaining work.
// Failures wrap ErrPlanning.
type Planner interface {
	Replan(ctx context.Context, fb Feedback) ([]StepSpec, error)
}

// JudgeRequest is everything a model judge sees about a result.
type JudgeRequest struct {
	Goal           Goal           `json:"goal"`
	Result         *Result        `json:"result"`
	SoftViolations []Constraint   `json:"soft_violations,omitempty"`
	Criteria       CriteriaReport `json:"criteria"`
}

// ModelJudge is the model-backed semantic evaluation capability.
type ModelJudge interface {
	Judge(ctx context.Context, req JudgeRequest) (*Verdict, error)
}
