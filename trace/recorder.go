package trace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
)

// Option is a functional option for configuring a Recorder.
type Option func(*Recorder)

// WithRepository sets the repository for persisting trace data.
func WithRepository(repo Repository) Option {
	return func(r *Recorder) {
		r.repo = repo
	}
}

// WithLabels sets labels copied into the metadata of every trace.
func WithLabels(labels map[string]string) Option {
	return func(r *Recorder) {
		r.labels = labels
	}
}

// Recorder collects tracing data of episodes into in-memory Trace
// structures, one per episode. The trace ID is the episode ID.
type Recorder struct {
	mu     sync.Mutex
	traces map[string]*Trace
	repo   Repository
	labels map[string]string
}

// New creates a new Recorder with the given options.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		traces: map[string]*Trace{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// context key types
type currentSpanKey struct{}
type currentTraceKey struct{}

// withCurrentSpan stores the current span in the context.
func withCurrentSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, currentSpanKey{}, span)
}

// currentSpanFrom retrieves the current span from the context. Returns nil if not set.
func currentSpanFrom(ctx context.Context) *Span {
	s, _ := ctx.Value(currentSpanKey{}).(*Span)
	return s
}

func currentTraceFrom(ctx context.Context) *Trace {
	t, _ := ctx.Value(currentTraceKey{}).(*Trace)
	return t
}

// newSpanID generates a unique span ID.
func newSpanID() string {
	return uuid.New().String()
}

// StartEpisode starts the root episode span and a new trace.
func (r *Recorder) StartEpisode(ctx context.Context, info EpisodeInfo) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	span := &Span{
		SpanID:    newSpanID(),
		Kind:      SpanKindEpisode,
		Name:      "episode",
		StartedAt: now,
		Status:    SpanStatusOK,
	}

	traceID := info.EpisodeID
	if traceID == "" {
		traceID = uuid.Must(uuid.NewV7()).String()
	}

	t := &Trace{
		TraceID:  traceID,
		RootSpan: span,
		Metadata: TraceMetadata{
			EpisodeID: info.EpisodeID,
			GoalID:    info.GoalID,
			GoalType:  info.GoalType,
			Labels:    r.labels,
		},
		StartedAt: now,
	}
	r.traces[traceID] = t

	ctx = context.WithValue(ctx, currentTraceKey{}, t)
	return withCurrentSpan(ctx, span)
}

// EndEpisode ends the root episode span.
func (r *Recorder) EndEpisode(ctx context.Context, state string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := currentSpanFrom(ctx)
	if span == nil || span.Kind != SpanKindEpisode {
		return
	}
	r.endSpan(span, err)

	if t := currentTraceFrom(ctx); t != nil {
		t.State = state
		t.EndedAt = span.EndedAt
	}
}

// StartStep starts a step span as a child of the episode span.
func (r *Recorder) StartStep(ctx context.Context, step StepInfo) context.Context {
	ctx = r.startChildSpan(ctx, SpanKindStep, step.StepID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if span := currentSpanFrom(ctx); span != nil && span.Kind == SpanKindStep {
		span.Step = &StepData{StepInfo: step}
	}
	return ctx
}

// EndStep ends the step span with the result.
func (r *Recorder) EndStep(ctx context.Context, result map[string]any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := currentSpanFrom(ctx)
	if span == nil || span.Kind != SpanKindStep {
		return
	}
	r.endSpan(span, err)

	if span.Step != nil {
		span.Step.Result = result
		if err != nil {
			span.Step.Error = err.Error()
		}
	}
}

// StartEvaluation starts an evaluation span as a child of the current span.
func (r *Recorder) StartEvaluation(ctx context.Context) context.Context {
	return r.startChildSpan(ctx, SpanKindEvaluation, "evaluation")
}

// EndEvaluation ends the evaluation span with the judgment.
func (r *Recorder) EndEvaluation(ctx context.Context, data *EvaluationData, err error) {
	r.endKind(ctx, SpanKindEvaluation, err, func(s *Span) { s.Evaluation = data })
}

// StartPlanning starts a planning span as a child of the current span.
func (r *Recorder) StartPlanning(ctx context.Context, replan int) context.Context {
	return r.startChildSpan(ctx, SpanKindPlanning, "planning")
}

// EndPlanning ends the planning span with the revised plan.
func (r *Recorder) EndPlanning(ctx context.Context, data *PlanningData, err error) {
	r.endKind(ctx, SpanKindPlanning, err, func(s *Span) { s.Planning = data })
}

// StartEscalation starts an escalation span as a child of the current span.
func (r *Recorder) StartEscalation(ctx context.Context, pendingID string) context.Context {
	return r.startChildSpan(ctx, SpanKindEscalation, pendingID)
}

// EndEscalation ends the escalation span with its resolution.
func (r *Recorder) EndEscalation(ctx context.Context, data *EscalationData, err error) {
	r.endKind(ctx, SpanKindEscalation, err, func(s *Span) { s.Escalation = data })
}

// AddEvent adds an event span as a child of the current span.
// data is any JSON-serializable value.
func (r *Recorder) AddEvent(ctx context.Context, kind string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent := currentSpanFrom(ctx)
	if parent == nil {
		return
	}

	now := time.Now()
	span := &Span{
		SpanID:    newSpanID(),
		ParentID:  parent.SpanID,
		Kind:      SpanKindEvent,
		Name:      kind,
		StartedAt: now,
		EndedAt:   now,
		Status:    SpanStatusOK,
		Event: &EventData{
			Kind: kind,
			Data: data,
		},
	}

	parent.Children = append(parent.Children, span)
}

// Finish persists the trace of the episode in ctx to the Repository.
func (r *Recorder) Finish(ctx context.Context) error {
	t := currentTraceFrom(ctx)
	if t == nil || r.repo == nil {
		return nil
	}

	// span updates hold r.mu, so the trace is consistent while marshaled
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.repo.Save(ctx, t); err != nil {
		return err
	}
	// saved traces are served by the repository from here on
	delete(r.traces, t.TraceID)
	ctxlog.From(ctx).Debug("trace saved", "trace_id", t.TraceID)
	return nil
}

// Trace returns the trace of an episode. Returns nil if unknown or already
// saved to the repository.
func (r *Recorder) Trace(episodeID string) *Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.traces[episodeID]
}

// Traces returns all recorded traces.
func (r *Recorder) Traces() []*Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Trace, 0, len(r.traces))
	for _, t := range r.traces {
		out = append(out, t)
	}
	return out
}

// startChildSpan is a helper to start a child span of the current span.
func (r *Recorder) startChildSpan(ctx context.Context, kind SpanKind, name string) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent := currentSpanFrom(ctx)
	if parent == nil {
		return ctx
	}

	span := &Span{
		SpanID:    newSpanID(),
		ParentID:  parent.SpanID,
		Kind:      kind,
		Name:      name,
		StartedAt: time.Now(),
		Status:    SpanStatusOK,
	}

	parent.Children = append(parent.Children, span)
	return withCurrentSpan(ctx, span)
}

func (r *Recorder) endKind(ctx context.Context, kind SpanKind, err error, set func(*Span)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := currentSpanFrom(ctx)
	if span == nil || span.Kind != kind {
		return
	}
	r.endSpan(span, err)
	set(span)
}

// endSpan must be called with r.mu held.
func (r *Recorder) endSpan(span *Span, err error) {
	now := time.Now()
	span.EndedAt = now
	span.Duration = now.Sub(span.StartedAt)

	if err != nil {
		span.Status = SpanStatusError
		span.Error = err.Error()
	}
}
