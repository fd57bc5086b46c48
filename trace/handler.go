package trace

import "context"

// Handler is the interface for trace backends.
// Implementations receive lifecycle events while an episode runs and can
// record, export, or forward them as needed. One Handler may serve many
// concurrent episodes; per-episode state travels in the returned contexts.
type Handler interface {
	// StartEpisode starts the root span of an episode.
	StartEpisode(ctx context.Context, info EpisodeInfo) context.Context
	// EndEpisode ends the root span with the terminal state.
	EndEpisode(ctx context.Context, state string, err error)

	// StartStep starts a step execution span.
	StartStep(ctx context.Context, step StepInfo) context.Context
	// EndStep ends the step span with the worker's result payload.
	EndStep(ctx context.Context, result map[string]any, err error)

	// StartEvaluation starts an evaluation span for the current step.
	StartEvaluation(ctx context.Context) context.Context
	// EndEvaluation ends the evaluation span with the judgment.
	EndEvaluation(ctx context.Context, data *EvaluationData, err error)

	// StartPlanning starts a replanning span.
	StartPlanning(ctx context.Context, replan int) context.Context
	// EndPlanning ends the replanning span with the revised plan.
	EndPlanning(ctx context.Context, data *PlanningData, err error)

	// StartEscalation starts a span covering the wait for a human decision.
	StartEscalation(ctx context.Context, pendingID string) context.Context
	// EndEscalation ends the escalation span with its resolution.
	EndEscalation(ctx context.Context, data *EscalationData, err error)

	// AddEvent adds an event to the current span.
	AddEvent(ctx context.Context, kind string, data any)

	// Finish completes the trace of the episode in ctx and performs any
	// final operations.
	Finish(ctx context.Context) error
}
