// Package logger provides a trace.Handler that writes episode lifecycle
// events as structured log records.
package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/tribunal/trace"
)

// Event represents a trace event type that can be selectively enabled.
type Event int

const (
	// Episode enables logging of episode start/end.
	Episode Event = iota
	// Step enables logging of step executions (id, attempt, result, duration).
	Step
	// Evaluation enables logging of judgments.
	Evaluation
	// Planning enables logging of replanning.
	Planning
	// Escalation enables logging of escalation waits and their resolution.
	Escalation
	// CustomEvent enables logging of events added with AddEvent.
	CustomEvent

	eventCount // sentinel for iteration
)

type config struct {
	logger *slog.Logger
	events map[Event]bool
}

// Option configures the logger handler.
type Option func(*config)

// WithLogger sets a fixed slog.Logger. By default the logger carried by the
// context (ctxlog) is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithEvents enables only the specified event types.
// When not specified, all events are enabled.
func WithEvents(events ...Event) Option {
	return func(c *config) {
		c.events = make(map[Event]bool, len(events))
		for _, e := range events {
			c.events[e] = true
		}
	}
}

// handler implements trace.Handler by logging events via slog.
type handler struct {
	cfg config
}

// New creates a new trace.Handler that logs trace events via slog.
func New(opts ...Option) trace.Handler {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.events == nil {
		cfg.events = make(map[Event]bool, eventCount)
		for i := Event(0); i < eventCount; i++ {
			cfg.events[i] = true
		}
	}

	return &handler{cfg: cfg}
}

func (h *handler) logger(ctx context.Context) *slog.Logger {
	l := h.cfg.logger
	if l == nil {
		l = ctxlog.From(ctx)
	}
	if id := episodeIDFrom(ctx); id != "" {
		l = l.With(slog.String("episode_id", id))
	}
	return l
}

func (h *handler) enabled(e Event) bool {
	return h.cfg.events[e]
}

// context key for storing span start time
type startTimeKey struct{}

func withStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey{}, t)
}

func startTimeFrom(ctx context.Context) time.Time {
	t, _ := ctx.Value(startTimeKey{}).(time.Time)
	return t
}

type episodeIDKey struct{}

func episodeIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(episodeIDKey{}).(string)
	return id
}

type stepInfoKey struct{}

func stepInfoFrom(ctx context.Context) trace.StepInfo {
	info, _ := ctx.Value(stepInfoKey{}).(trace.StepInfo)
	return info
}

type pendingIDKey struct{}

func withError(attrs []any, err error) []any {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	return attrs
}

// StartEpisode logs the episode start.
func (h *handler) StartEpisode(ctx context.Context, info trace.EpisodeInfo) context.Context {
	ctx = context.WithValue(ctx, episodeIDKey{}, info.EpisodeID)
	if h.enabled(Episode) {
		h.logger(ctx).InfoContext(ctx, "episode started",
			slog.String("goal_id", info.GoalID),
			slog.String("goal_type", info.GoalType),
			slog.Int("steps", info.Steps),
		)
	}
	return withStartTime(ctx, time.Now())
}

// EndEpisode logs the terminal state with duration and error info.
func (h *handler) EndEpisode(ctx context.Context, state string, err error) {
	if !h.enabled(Episode) {
		return
	}

	attrs := []any{
		slog.String("state", state),
		slog.Duration("duration", time.Since(startTimeFrom(ctx))),
	}
	h.logger(ctx).InfoContext(ctx, "episode ended", withError(attrs, err)...)
}

// StartStep records the start time and step info for EndStep.
func (h *handler) StartStep(ctx context.Context, step trace.StepInfo) context.Context {
	ctx = withStartTime(ctx, time.Now())
	return context.WithValue(ctx, stepInfoKey{}, step)
}

// EndStep logs the step execution.
func (h *handler) EndStep(ctx context.Context, result map[string]any, err error) {
	if !h.enabled(Step) {
		return
	}

	info := stepInfoFrom(ctx)
	attrs := []any{
		slog.String("step_id", info.StepID),
		slog.Int("attempt", info.Attempt),
		slog.Duration("duration", time.Since(startTimeFrom(ctx))),
		slog.Any("result", result),
	}
	if info.Tool != "" {
		attrs = append(attrs, slog.String("tool", info.Tool))
	}
	h.logger(ctx).InfoContext(ctx, "step executed", withError(attrs, err)...)
}

// StartEvaluation records the start time for EndEvaluation.
func (h *handler) StartEvaluation(ctx context.Context) context.Context {
	return withStartTime(ctx, time.Now())
}

// EndEvaluation logs the judgment.
func (h *handler) EndEvaluation(ctx context.Context, data *trace.EvaluationData, err error) {
	if !h.enabled(Evaluation) {
		return
	}

	attrs := []any{
		slog.String("step_id", stepInfoFrom(ctx).StepID),
		slog.Duration("duration", time.Since(startTimeFrom(ctx))),
	}
	if data != nil {
		attrs = append(attrs,
			slog.String("action", data.Action),
			slog.Float64("confidence", data.Confidence),
			slog.String("source", data.Source),
			slog.String("reasoning", data.Reasoning),
			slog.Uint64("seq", data.Seq),
		)
	}
	h.logger(ctx).InfoContext(ctx, "step evaluated", withError(attrs, err)...)
}

// StartPlanning records the start time for EndPlanning.
func (h *handler) StartPlanning(ctx context.Context, _ int) context.Context {
	return withStartTime(ctx, time.Now())
}

// EndPlanning logs the revised plan.
func (h *handler) EndPlanning(ctx context.Context, data *trace.PlanningData, err error) {
	if !h.enabled(Planning) {
		return
	}

	attrs := []any{
		slog.Duration("duration", time.Since(startTimeFrom(ctx))),
	}
	if data != nil {
		attrs = append(attrs,
			slog.Int("replan", data.Replan),
			slog.Any("steps", data.Steps),
		)
	}
	h.logger(ctx).InfoContext(ctx, "replanned", withError(attrs, err)...)
}

// StartEscalation logs that the episode is waiting for a human.
func (h *handler) StartEscalation(ctx context.Context, pendingID string) context.Context {
	ctx = withStartTime(ctx, time.Now())
	ctx = context.WithValue(ctx, pendingIDKey{}, pendingID)
	if h.enabled(Escalation) {
		h.logger(ctx).InfoContext(ctx, "waiting for human decision", slog.String("pending_id", pendingID))
	}
	return ctx
}

// EndEscalation logs the resolution of an escalation.
func (h *handler) EndEscalation(ctx context.Context, data *trace.EscalationData, err error) {
	if !h.enabled(Escalation) {
		return
	}

	pendingID, _ := ctx.Value(pendingIDKey{}).(string)
	attrs := []any{
		slog.String("pending_id", pendingID),
		slog.Duration("waited", time.Since(startTimeFrom(ctx))),
	}
	if data != nil {
		attrs = append(attrs,
			slog.String("status", data.Status),
			slog.String("action", data.Action),
			slog.String("source", data.Source),
		)
	}
	h.logger(ctx).InfoContext(ctx, "escalation closed", withError(attrs, err)...)
}

// AddEvent logs a custom event.
func (h *handler) AddEvent(ctx context.Context, kind string, data any) {
	if !h.enabled(CustomEvent) {
		return
	}

	h.logger(ctx).InfoContext(ctx, "event",
		slog.String("kind", kind),
		slog.Any("data", data),
	)
}

// Finish is a no-op for the logger handler. Persistence is the Recorder's responsibility.
func (h *handler) Finish(_ context.Context) error {
	return nil
}
