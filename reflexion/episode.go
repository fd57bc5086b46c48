package reflexion

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/decisionlog"
)

// Reasons recorded on terminal transitions.
const (
	ReasonCancelled   = "cancelled"
	ReasonAllAccepted = "all steps accepted"
	ReasonAborted     = "aborted"

	// ReasonFallbackExhausted ends an episode whose timeout fallback led back
	// into retry and replan bounds that were already used up.
	ReasonFallbackExhausted = "timeout fallback re-entered exhausted bound"
)

// Episode is one run of a goal through the control loop. It is owned by the
// goroutine running it; read it only after Run returns.
type Episode struct {
	ID       string              `json:"id"`
	Goal     tribunal.Goal       `json:"goal"`
	Plan     []tribunal.StepSpec `json:"plan"`
	State    State               `json:"state"`
	History  []Transition        `json:"history"`
	Feedback tribunal.Feedback   `json:"feedback"`
	Replans  int                 `json:"replans"`
	// Decisions lists the decision log sequence numbers of every evaluation.
	Decisions []uint64 `json:"decisions,omitempty"`
	// Escalations lists pending escalation ids in the order they were opened.
	Escalations []string  `json:"escalations,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitzero"`

	cursor  int
	retries map[string]int
	result  *tribunal.Result
	last    *decisionlog.Record
	// escalated is the record whose judgment escalated; zero for bound escalations.
	escalated uint64
	// humanOverride lets the next retry or replan skip its bound once.
	humanOverride bool
	// timedOut is set while a timeout fallback's retry or replan is pending.
	timedOut bool
}

func newEpisode(goal tribunal.Goal, plan []tribunal.StepSpec) *Episode {
	id := uuid.Must(uuid.NewV7()).String()
	return &Episode{
		ID:    id,
		Goal:  goal,
		Plan:  slices.Clone(plan),
		State: StateExecuting,
		Feedback: tribunal.Feedback{
			EpisodeID: id,
			Goal:      goal,
			Remaining: slices.Clone(plan),
			Context:   map[string]any{},
		},
		StartedAt: time.Now(),
		retries:   map[string]int{},
	}
}

// Current returns the step the episode is working on.
func (e *Episode) Current() (tribunal.StepSpec, bool) {
	if e.cursor >= len(e.Plan) {
		return tribunal.StepSpec{}, false
	}
	return e.Plan[e.cursor], true
}

// Retries returns the retry counter of a step in the current plan.
func (e *Episode) Retries(stepID string) int { return e.retries[stepID] }

func (e *Episode) transition(to State, reason string) (Transition, error) {
	step, _ := e.Current()
	if !CanTransition(e.State, to) {
		return Transition{}, goerr.Wrap(ErrInvalidTransition, "transition is not allowed",
			goerr.V("episode_id", e.ID),
			goerr.V("from", e.State),
			goerr.V("to", to),
		)
	}

	tr := Transition{
		From:   e.State,
		To:     to,
		StepID: step.ID,
		Reason: reason,
		At:     time.Now(),
	}
	e.History = append(e.History, tr)
	e.State = to
	if to.Terminal() {
		e.Reason = reason
		e.EndedAt = tr.At
	}
	return tr, nil
}

func (e *Episode) recordFailure(step tribunal.StepSpec, attempt int, msg string) {
	fs := e.Feedback.FailedStep(step)
	fs.Attempts = append(fs.Attempts, tribunal.Attempt{
		Number: attempt,
		Error:  msg,
		At:     time.Now(),
	})
}

func (e *Episode) previousAttempts(stepID string) []tribunal.Attempt {
	for _, fs := range e.Feedback.Failed {
		if fs.Step.ID == stepID {
			return slices.Clone(fs.Attempts)
		}
	}
	return nil
}

func (e *Episode) accept() {
	step, ok := e.Current()
	if !ok {
		return
	}
	done := tribunal.CompletedStep{Step: step}
	if e.result != nil {
		done.ResultID = e.result.ID
		done.Payload = e.result.Payload
		for k, v := range e.result.Payload {
			e.Feedback.Context[step.ID+"."+k] = v
		}
	}
	e.Feedback.Completed = append(e.Feedback.Completed, done)
	e.cursor++
	e.Feedback.Remaining = slices.Clone(e.Plan[e.cursor:])
	e.result = nil
}

func (e *Episode) adoptPlan(steps []tribunal.StepSpec) {
	e.Plan = slices.Clone(steps)
	e.cursor = 0
	e.retries = map[string]int{}
	e.Feedback.Remaining = slices.Clone(steps)
	e.result = nil
}

func (e *Episode) consumeOverride() bool {
	o := e.humanOverride
	e.humanOverride = false
	return o
}

func (e *Episode) consumeTimedOut() bool {
	t := e.timedOut
	e.timedOut = false
	return t
}

// fail ends the episode after an internal error, outside the transition table.
func (e *Episode) fail(reason string) {
	now := time.Now()
	e.History = append(e.History, Transition{
		From:   e.State,
		To:     StateTerminalFailure,
		Reason: reason,
		At:     now,
	})
	e.State = StateTerminalFailure
	e.Reason = reason
	e.EndedAt = now
}
