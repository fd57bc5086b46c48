package trace

import (
	"time"
)

// SpanKind represents the type of a span.
type SpanKind string

const (
	SpanKindEpisode    SpanKind = "episode"
	SpanKindStep       SpanKind = "step"
	SpanKindEvaluation SpanKind = "evaluation"
	SpanKindPlanning   SpanKind = "planning"
	SpanKindEscalation SpanKind = "escalation"
	SpanKindEvent      SpanKind = "event"
)

// SpanStatus represents the status of a span.
type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "ok"
	SpanStatusError SpanStatus = "error"
)

// Trace is the recorded history of one episode.
type Trace struct {
	TraceID   string        `json:"trace_id"`
	RootSpan  *Span         `json:"root_span"`
	Metadata  TraceMetadata `json:"metadata"`
	State     string        `json:"state,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
}

// TraceMetadata holds metadata for a trace.
type TraceMetadata struct {
	EpisodeID string            `json:"episode_id"`
	GoalID    string            `json:"goal_id,omitempty"`
	GoalType  string            `json:"goal_type,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Span represents a single unit of operation in the trace hierarchy.
type Span struct {
	SpanID    string        `json:"span_id"`
	ParentID  string        `json:"parent_id,omitempty"`
	Kind      SpanKind      `json:"kind"`
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
	Status    SpanStatus    `json:"status"`
	Error     string        `json:"error,omitempty"`
	Children  []*Span       `json:"children,omitempty"`

	// Kind-specific data (only one is non-nil based on Kind)
	Step       *StepData       `json:"step,omitempty"`
	Evaluation *EvaluationData `json:"evaluation,omitempty"`
	Planning   *PlanningData   `json:"planning,omitempty"`
	Escalation *EscalationData `json:"escalation,omitempty"`
	Event      *EventData      `json:"event,omitempty"`
}

// Find returns spans of the kind in depth-first order.
func (s *Span) Find(kind SpanKind) []*Span {
	if s == nil {
		return nil
	}
	var out []*Span
	if s.Kind == kind {
		out = append(out, s)
	}
	for _, c := range s.Children {
		out = append(out, c.Find(kind)...)
	}
	return out
}
