package trace

// EpisodeInfo identifies the episode a trace belongs to.
type EpisodeInfo struct {
	EpisodeID string `json:"episode_id"`
	GoalID    string `json:"goal_id"`
	GoalType  string `json:"goal_type"`
	Steps     int    `json:"steps"`
}

// StepInfo identifies one attempt of a step.
type StepInfo struct {
	StepID  string         `json:"step_id"`
	Tool    string         `json:"tool,omitempty"`
	Attempt int            `json:"attempt"`
	Args    map[string]any `json:"args,omitempty"`
}

// StepData holds data specific to a step span.
type StepData struct {
	StepInfo
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// EvaluationData holds the judgment of an evaluation span.
type EvaluationData struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Seq        uint64  `json:"seq,omitempty"`
}

// PlanningData holds the outcome of a replanning span.
type PlanningData struct {
	Replan int      `json:"replan"`
	Steps  []string `json:"steps,omitempty"`
}

// EscalationData holds the resolution of an escalation span.
type EscalationData struct {
	PendingID string `json:"pending_id"`
	Status    string `json:"status,omitempty"`
	Action    string `json:"action,omitempty"`
	Source    string `json:"source,omitempty"`
}

// EventData holds data specific to an event span.
type EventData struct {
	Kind string `json:"kind"`
	Data any    `json:"data,omitempty"`
}
