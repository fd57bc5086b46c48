// Package reflexion runs episodes through the control loop: every step of a
// plan is executed by a Worker, judged by the triangulated evaluator, and
// then accepted, retried, replanned or escalated to a human.
//
// Basic usage:
//
//	ctrl := reflexion.New(worker, planner, eval, escalations,
//	    reflexion.WithMaxRetries(3),
//	    reflexion.WithMaxReplans(2),
//	)
//	ep, err := ctrl.Run(ctx, goal, plan)
//
// Each episode runs on the calling goroutine and owns its own counters and
// history. An escalation parks only that goroutine until a decision arrives.
package reflexion

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/decisionlog"
	"github.com/m-mizutani/tribunal/escalation"
	"github.com/m-mizutani/tribunal/evaluator"
	"github.com/m-mizutani/tribunal/eventbus"
	"github.com/m-mizutani/tribunal/trace"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxRetries is the default retry bound per step.
	DefaultMaxRetries = 3
	// DefaultMaxReplans is the default replan bound per episode.
	DefaultMaxReplans = 2
)

// ErrEmptyPlan is returned by Run when the plan has no steps.
var ErrEmptyPlan = goerr.New("plan has no steps")

// Evaluator judges a step result and records the decision.
type Evaluator interface {
	Decide(ctx context.Context, in evaluator.Input) (decisionlog.Record, error)
}

// Escalator parks an episode until a human decision or timeout arrives.
type Escalator interface {
	Pause(ctx context.Context, episodeID string, ec escalation.Context) (string, error)
	Await(ctx context.Context, id string) (escalation.Resolution, error)
	Cancel(ctx context.Context, id string) error
}

// Controller drives episodes. It holds no per-episode state and is safe for
// concurrent use.
type Controller struct {
	worker  tribunal.Worker
	planner tribunal.Planner
	eval    Evaluator
	esc     Escalator

	trace trace.Handler
	bus   *eventbus.Bus

	maxRetries int
	maxReplans int
}

// New creates a Controller.
func New(worker tribunal.Worker, planner tribunal.Planner, eval Evaluator, esc Escalator, opts ...Option) *Controller {
	c := &Controller{
		worker:     worker,
		planner:    planner,
		eval:       eval,
		esc:        esc,
		maxRetries: DefaultMaxRetries,
		maxReplans: DefaultMaxReplans,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.trace == nil {
		c.trace = trace.Multi()
	}
	return c
}

// Run executes plan for goal until the episode reaches a terminal state.
//
// The returned episode is non-nil whenever the input was valid. The error is
// non-nil when ctx was cancelled (the episode ends in TERMINAL_FAILURE with
// reason "cancelled") or when the controller failed internally. An episode
// aborted by a decision is a normal outcome and returns no error.
func (c *Controller) Run(ctx context.Context, goal tribunal.Goal, plan []tribunal.StepSpec) (*Episode, error) {
	if err := goal.Validate(); err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, goerr.Wrap(ErrEmptyPlan, "cannot start episode", goerr.V("goal_id", goal.ID))
	}

	ep := newEpisode(goal, plan)
	logger := ctxlog.From(ctx).With("episode_id", ep.ID, "goal_id", goal.ID)
	ctx = ctxlog.With(ctx, logger)

	ctx = c.trace.StartEpisode(ctx, trace.EpisodeInfo{
		EpisodeID: ep.ID,
		GoalID:    goal.ID,
		GoalType:  goal.GoalType(),
		Steps:     len(plan),
	})
	c.bus.EmitStarted(ctx, ep.ID, goal.ID, len(plan))
	logger.Info("episode started", "steps", len(plan))

	err := c.loop(ctx, ep)
	if err != nil && !ep.State.Terminal() {
		logger.Error("episode failed", "error", err)
		ep.fail(err.Error())
	}

	c.trace.EndEpisode(ctx, ep.State.String(), err)
	if ferr := c.trace.Finish(ctx); ferr != nil {
		logger.Warn("failed to finish trace", "error", ferr)
	}

	if ep.State == StateTerminalSuccess {
		c.bus.EmitCompleted(ctx, ep.ID, ep.State.String())
	} else {
		c.bus.EmitFailed(ctx, ep.ID, ep.State.String(), ep.Reason)
	}
	logger.Info("episode ended",
		"state", ep.State,
		"reason", ep.Reason,
		"replans", ep.Replans,
		"decisions", len(ep.Decisions),
	)

	return ep, err
}

// Job is one episode for RunAll.
type Job struct {
	Goal tribunal.Goal
	Plan []tribunal.StepSpec
}

// RunAll runs independent episodes concurrently, at most limit at a time
// (no limit when limit <= 0). Episodes are returned in job order; errors of
// individual episodes are joined.
func (c *Controller) RunAll(ctx context.Context, jobs []Job, limit int) ([]*Episode, error) {
	episodes := make([]*Episode, len(jobs))
	errs := make([]error, len(jobs))

	var eg errgroup.Group
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for i, job := range jobs {
		eg.Go(func() error {
			episodes[i], errs[i] = c.Run(ctx, job.Goal, job.Plan)
			return nil
		})
	}
	_ = eg.Wait()

	return episodes, errors.Join(errs...)
}

func (c *Controller) loop(ctx context.Context, ep *Episode) error {
	for !ep.State.Terminal() {
		var err error
		switch ep.State {
		case StateExecuting:
			err = c.execute(ctx, ep)
		case StateAccepted:
			err = c.advance(ctx, ep)
		case StateRetrying:
			err = c.retry(ctx, ep)
		case StateReplanning:
			err = c.replan(ctx, ep)
		case StateEscalated:
			err = c.escalate(ctx, ep)
		default:
			err = goerr.Wrap(ErrInvalidTransition, "no handler for state", goerr.V("state", ep.State))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) move(ctx context.Context, ep *Episode, to State, reason string) error {
	tr, err := ep.transition(to, reason)
	if err != nil {
		return err
	}

	ctxlog.From(ctx).Info("state changed",
		"from", tr.From,
		"to", tr.To,
		"step_id", tr.StepID,
		"reason", reason,
	)
	c.trace.AddEvent(ctx, "state_changed", tr)
	c.bus.EmitStateChanged(ctx, ep.ID, tr.StepID, tr.From.String(), tr.To.String(), reason)
	return nil
}

func (c *Controller) cancelled(ctx context.Context, ep *Episode) error {
	if err := c.move(ctx, ep, StateTerminalFailure, ReasonCancelled); err != nil {
		return err
	}
	return goerr.Wrap(ctx.Err(), "episode cancelled", goerr.V("episode_id", ep.ID))
}

func (c *Controller) execute(ctx context.Context, ep *Episode) error {
	if ctx.Err() != nil {
		return c.cancelled(ctx, ep)
	}

	step, ok := ep.Current()
	if !ok {
		return goerr.Wrap(ErrInvalidTransition, "no step to execute", goerr.V("episode_id", ep.ID))
	}
	attempt := ep.retries[step.ID] + 1
	logger := ctxlog.From(ctx).With("step_id", step.ID, "attempt", attempt)

	stepCtx := c.trace.StartStep(ctx, trace.StepInfo{
		StepID:  step.ID,
		Tool:    step.Tool,
		Attempt: attempt,
		Args:    step.Args,
	})
	result, err := c.worker.RunStep(stepCtx, step, tribunal.StepContext{
		EpisodeID: ep.ID,
		Goal:      ep.Goal,
		Attempt:   attempt,
		Previous:  ep.previousAttempts(step.ID),
	})
	if err == nil && result == nil {
		err = goerr.Wrap(tribunal.ErrExecution, "worker returned no result", goerr.V("step_id", step.ID))
	}
	if err != nil {
		c.trace.EndStep(stepCtx, nil, err)
		if !errors.Is(err, tribunal.ErrExecution) {
			logger.Warn("worker error does not wrap ErrExecution", "error", err)
		}
		logger.Warn("step failed", "error", err)
		ep.recordFailure(step, attempt, err.Error())
		return c.move(ctx, ep, StateRetrying, "step execution failed")
	}

	if result.StepID == "" {
		result.StepID = step.ID
	}
	ep.result = result
	c.trace.EndStep(stepCtx, result.Payload, nil)
	logger.Debug("step executed", "result_id", result.ID)

	if err := c.move(ctx, ep, StateEvaluating, "step executed"); err != nil {
		return err
	}
	return c.evaluate(stepCtx, ep, step, attempt)
}

func (c *Controller) evaluate(ctx context.Context, ep *Episode, step tribunal.StepSpec, attempt int) error {
	if ctx.Err() != nil {
		return c.cancelled(ctx, ep)
	}

	evalCtx := c.trace.StartEvaluation(ctx)
	rec, err := c.eval.Decide(evalCtx, evaluator.Input{
		Goal:      ep.Goal,
		Result:    ep.result,
		EpisodeID: ep.ID,
		StepID:    step.ID,
	})
	j := rec.Judgment
	c.trace.EndEvaluation(evalCtx, &trace.EvaluationData{
		Action:     j.Action.String(),
		Confidence: j.Confidence,
		Source:     string(j.Source),
		Reasoning:  j.Reasoning,
		Seq:        rec.Seq,
	}, err)
	if err != nil {
		ctxlog.From(ctx).Warn("judgment was not recorded", "error", err)
	}

	if rec.Seq != 0 {
		ep.Decisions = append(ep.Decisions, rec.Seq)
	}
	ep.last = &rec
	ep.escalated = 0

	if rec.Violation != "" {
		ep.Feedback.Violations = append(ep.Feedback.Violations, tribunal.Violation{
			ConstraintID: rec.Violation,
			StepID:       step.ID,
			Reasoning:    j.Reasoning,
		})
		c.bus.EmitConstraintViolation(ctx, ep.ID, step.ID, rec.Violation, j.Reasoning)
	}

	reason := judgmentReason(j)
	switch j.Action {
	case tribunal.ActionAccept:
		return c.move(ctx, ep, StateAccepted, reason)
	case tribunal.ActionRetry:
		ep.recordFailure(step, attempt, j.Reasoning)
		return c.move(ctx, ep, StateRetrying, reason)
	case tribunal.ActionReplan:
		return c.move(ctx, ep, StateReplanning, reason)
	case tribunal.ActionEscalate:
		ep.escalated = rec.Seq
		return c.move(ctx, ep, StateEscalated, reason)
	default:
		return c.move(ctx, ep, StateTerminalFailure, reason)
	}
}

func (c *Controller) advance(ctx context.Context, ep *Episode) error {
	ep.accept()
	done := len(ep.Feedback.Completed)
	c.bus.EmitGoalProgress(ctx, ep.ID, done, done+len(ep.Feedback.Remaining))

	if _, ok := ep.Current(); ok {
		return c.move(ctx, ep, StateExecuting, "next step")
	}
	return c.move(ctx, ep, StateTerminalSuccess, ReasonAllAccepted)
}

func (c *Controller) retry(ctx context.Context, ep *Episode) error {
	step, _ := ep.Current()
	override := ep.consumeOverride()

	if ep.retries[step.ID] >= c.maxRetries && !override {
		// timedOut carries over to replan
		return c.move(ctx, ep, StateReplanning, fmt.Sprintf("retry bound exceeded (%d)", c.maxRetries))
	}

	ep.timedOut = false
	ep.retries[step.ID]++
	ep.Feedback.FailedStep(step).Retries = ep.retries[step.ID]
	return c.move(ctx, ep, StateExecuting, fmt.Sprintf("retry %d/%d", ep.retries[step.ID], c.maxRetries))
}

func (c *Controller) replan(ctx context.Context, ep *Episode) error {
	if ctx.Err() != nil {
		return c.cancelled(ctx, ep)
	}
	override := ep.consumeOverride()
	timedOut := ep.consumeTimedOut()

	if ep.Replans >= c.maxReplans && !override {
		if timedOut {
			ctxlog.From(ctx).Warn("timeout fallback cannot make progress",
				"episode_id", ep.ID, "replans", ep.Replans)
			return c.move(ctx, ep, StateTerminalFailure, ReasonFallbackExhausted)
		}
		ep.escalated = 0
		return c.move(ctx, ep, StateEscalated, fmt.Sprintf("replan bound exceeded (%d)", c.maxReplans))
	}

	ep.Replans++
	logger := ctxlog.From(ctx).With("replan", ep.Replans)

	planCtx := c.trace.StartPlanning(ctx, ep.Replans)
	steps, err := c.planner.Replan(planCtx, ep.Feedback.Clone())
	if err == nil && len(steps) == 0 {
		err = goerr.Wrap(tribunal.ErrPlanning, "planner returned no steps")
	}
	if err != nil {
		c.trace.EndPlanning(planCtx, nil, err)
		if !errors.Is(err, tribunal.ErrPlanning) {
			logger.Warn("planner error does not wrap ErrPlanning", "error", err)
		}
		logger.Warn("replanning failed", "error", err)
		ep.Feedback.PlanningErrors = append(ep.Feedback.PlanningErrors, err.Error())
		return c.move(ctx, ep, StateReplanning, "planning failed")
	}

	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	c.trace.EndPlanning(planCtx, &trace.PlanningData{Replan: ep.Replans, Steps: ids}, nil)
	logger.Debug("adopted revised plan", "steps", ids)

	ep.adoptPlan(steps)
	return c.move(ctx, ep, StateExecuting, fmt.Sprintf("replan %d/%d", ep.Replans, c.maxReplans))
}

func (c *Controller) escalate(ctx context.Context, ep *Episode) error {
	if ctx.Err() != nil {
		return c.cancelled(ctx, ep)
	}

	step, _ := ep.Current()
	reason := ep.History[len(ep.History)-1].Reason
	fb := ep.Feedback.Clone()
	ec := escalation.Context{
		GoalID:      ep.Goal.ID,
		GoalType:    ep.Goal.GoalType(),
		StepID:      step.ID,
		DecisionSeq: ep.escalated,
		Result:      ep.result,
		Feedback:    &fb,
		Reason:      reason,
	}
	if ep.escalated != 0 && ep.last != nil {
		ec.Judgment = ep.last.Judgment
		ec.ModelJudgment = ep.last.ModelJudgment
	} else {
		ec.Judgment = tribunal.Judgment{
			Action:     tribunal.ActionEscalate,
			Confidence: 1.0,
			Reasoning:  reason,
			Source:     tribunal.SourceRule,
		}
	}

	id, err := c.esc.Pause(ctx, ep.ID, ec)
	if err != nil {
		return goerr.Wrap(err, "failed to pause episode", goerr.V("episode_id", ep.ID))
	}
	ep.Escalations = append(ep.Escalations, id)

	escCtx := c.trace.StartEscalation(ctx, id)
	c.bus.EmitPaused(ctx, ep.ID, step.ID, id)

	res, err := c.esc.Await(ctx, id)
	if err != nil {
		c.trace.EndEscalation(escCtx, &trace.EscalationData{PendingID: id}, err)
		if ctx.Err() != nil {
			if cerr := c.esc.Cancel(context.WithoutCancel(ctx), id); cerr != nil {
				ctxlog.From(ctx).Warn("failed to cancel escalation", "escalation_id", id, "error", cerr)
			}
			return c.cancelled(ctx, ep)
		}
		return goerr.Wrap(err, "failed to await escalation", goerr.V("escalation_id", id))
	}

	j := res.Judgment
	c.trace.EndEscalation(escCtx, &trace.EscalationData{
		PendingID: id,
		Status:    string(res.Status),
		Action:    j.Action.String(),
		Source:    string(j.Source),
	}, nil)
	c.bus.EmitResumed(ctx, ep.ID, id, string(res.Status), j.Action.String())
	if res.RecordSeq != 0 {
		ep.Decisions = append(ep.Decisions, res.RecordSeq)
	}

	if res.Status == escalation.StatusCancelled {
		return c.move(ctx, ep, StateTerminalFailure, ReasonCancelled)
	}

	reason = fmt.Sprintf("%s: %s", res.Status, judgmentReason(j))
	switch j.Action {
	case tribunal.ActionAccept:
		return c.move(ctx, ep, StateAccepted, reason)
	case tribunal.ActionRetry:
		ep.humanOverride = j.Source == tribunal.SourceHuman
		ep.timedOut = res.Status == escalation.StatusTimedOut
		return c.move(ctx, ep, StateRetrying, reason)
	case tribunal.ActionReplan:
		ep.humanOverride = j.Source == tribunal.SourceHuman
		ep.timedOut = res.Status == escalation.StatusTimedOut
		return c.move(ctx, ep, StateReplanning, reason)
	default:
		return c.move(ctx, ep, StateTerminalFailure, ReasonAborted+": "+reason)
	}
}

func judgmentReason(j tribunal.Judgment) string {
	if j.Reasoning == "" {
		return fmt.Sprintf("%s by %s", j.Action, j.Source)
	}
	return fmt.Sprintf("%s by %s: %s", j.Action, j.Source, j.Reasoning)
}
