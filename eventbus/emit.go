package eventbus

import "context"

// Emit helpers publish the typed events of an episode. Like Publish they are
// no-ops on a nil *Bus.

// EmitStarted publishes ExecutionStarted for an episode.
func (b *Bus) EmitStarted(ctx context.Context, episodeID, goalID string, steps int) {
	b.Publish(ctx, Event{
		Type:      ExecutionStarted,
		EpisodeID: episodeID,
		Data:      map[string]any{"goal_id": goalID, "steps": steps},
	})
}

// EmitCompleted publishes ExecutionCompleted with the terminal state.
func (b *Bus) EmitCompleted(ctx context.Context, episodeID, state string) {
	b.Publish(ctx, Event{
		Type:      ExecutionCompleted,
		EpisodeID: episodeID,
		Data:      map[string]any{"state": state},
	})
}

// EmitFailed publishes ExecutionFailed with the terminal reason.
func (b *Bus) EmitFailed(ctx context.Context, episodeID, state, reason string) {
	b.Publish(ctx, Event{
		Type:      ExecutionFailed,
		EpisodeID: episodeID,
		Data:      map[string]any{"state": state, "reason": reason},
	})
}

// EmitPaused publishes ExecutionPaused when an episode waits for a human.
func (b *Bus) EmitPaused(ctx context.Context, episodeID, stepID, pendingID string) {
	b.Publish(ctx, Event{
		Type:      ExecutionPaused,
		EpisodeID: episodeID,
		StepID:    stepID,
		Data:      map[string]any{"pending_id": pendingID},
	})
}

// EmitResumed publishes ExecutionResumed with the resolving action.
func (b *Bus) EmitResumed(ctx context.Context, episodeID, pendingID, status, action string) {
	b.Publish(ctx, Event{
		Type:      ExecutionResumed,
		EpisodeID: episodeID,
		Data:      map[string]any{"pending_id": pendingID, "status": status, "action": action},
	})
}

// EmitStateChanged publishes a state transition.
func (b *Bus) EmitStateChanged(ctx context.Context, episodeID, stepID, from, to, reason string) {
	b.Publish(ctx, Event{
		Type:      StateChanged,
		EpisodeID: episodeID,
		StepID:    stepID,
		Data:      map[string]any{"from": from, "to": to, "reason": reason},
	})
}

// EmitGoalProgress publishes the number of accepted steps.
func (b *Bus) EmitGoalProgress(ctx context.Context, episodeID string, completed, total int) {
	progress := 0.0
	if total > 0 {
		progress = float64(completed) / float64(total)
	}
	b.Publish(ctx, Event{
		Type:      GoalProgress,
		EpisodeID: episodeID,
		Data:      map[string]any{"completed": completed, "total": total, "progress": progress},
	})
}

// EmitConstraintViolation publishes a hard constraint violation.
func (b *Bus) EmitConstraintViolation(ctx context.Context, episodeID, stepID, constraintID, reasoning string) {
	b.Publish(ctx, Event{
		Type:      ConstraintViolation,
		EpisodeID: episodeID,
		StepID:    stepID,
		Data:      map[string]any{"constraint_id": constraintID, "reasoning": reasoning},
	})
}
