// Package otel provides an OpenTelemetry trace handler for episodes.
//
// It bridges episode trace events to OpenTelemetry spans, allowing
// integration with any OTel-compatible backend (Jaeger, Zipkin, OTLP, etc.).
//
// Basic usage with global TracerProvider:
//
//	ctrl := reflexion.New(worker, planner, eval, esc, reflexion.WithTrace(otel.New()))
//
// With explicit TracerProvider:
//
//	ctrl := reflexion.New(worker, planner, eval, esc, reflexion.WithTrace(
//	    otel.New(otel.WithTracerProvider(tp)),
//	))
package otel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/tribunal/trace"
	otelAPI "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/m-mizutani/tribunal"
)

// Option is a functional option for configuring the OTel handler.
type Option func(*handler)

// WithTracerProvider sets an explicit TracerProvider.
// If not set, the global TracerProvider is used.
func WithTracerProvider(tp otelTrace.TracerProvider) Option {
	return func(h *handler) {
		h.tracerProvider = tp
	}
}

// handler implements trace.Handler by bridging events to OpenTelemetry spans.
type handler struct {
	tracerProvider otelTrace.TracerProvider
	tracer         otelTrace.Tracer
}

// New creates a new OTel trace handler.
// If no TracerProvider is specified via options, the global TracerProvider is used.
func New(opts ...Option) trace.Handler {
	h := &handler{}
	for _, opt := range opts {
		opt(h)
	}

	if h.tracerProvider == nil {
		h.tracerProvider = otelAPI.GetTracerProvider()
	}
	h.tracer = h.tracerProvider.Tracer(tracerName)

	return h
}

func end(ctx context.Context, err error) {
	span := otelTrace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (h *handler) StartEpisode(ctx context.Context, info trace.EpisodeInfo) context.Context {
	ctx, span := h.tracer.Start(ctx, "episode",
		otelTrace.WithSpanKind(otelTrace.SpanKindInternal),
	)
	span.SetAttributes(
		episodeIDAttr(info.EpisodeID),
		goalIDAttr(info.GoalID),
		goalTypeAttr(info.GoalType),
		planStepsAttr(info.Steps),
	)
	return ctx
}

func (h *handler) EndEpisode(ctx context.Context, state string, err error) {
	otelTrace.SpanFromContext(ctx).SetAttributes(episodeStateAttr(state))
	end(ctx, err)
}

func (h *handler) StartStep(ctx context.Context, step trace.StepInfo) context.Context {
	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("step:%s", step.StepID),
		otelTrace.WithSpanKind(otelTrace.SpanKindClient),
	)
	span.SetAttributes(
		stepIDAttr(step.StepID),
		stepAttemptAttr(step.Attempt),
	)
	if step.Tool != "" {
		span.SetAttributes(toolNameAttr(step.Tool))
	}
	if step.Args != nil {
		if b, err := json.Marshal(step.Args); err == nil {
			span.SetAttributes(toolArgsAttr(string(b)))
		}
	}
	return ctx
}

func (h *handler) EndStep(ctx context.Context, _ map[string]any, err error) {
	end(ctx, err)
}

func (h *handler) StartEvaluation(ctx context.Context) context.Context {
	ctx, _ = h.tracer.Start(ctx, "evaluation",
		otelTrace.WithSpanKind(otelTrace.SpanKindInternal),
	)
	return ctx
}

func (h *handler) EndEvaluation(ctx context.Context, data *trace.EvaluationData, err error) {
	if data != nil {
		otelTrace.SpanFromContext(ctx).SetAttributes(
			judgmentActionAttr(data.Action),
			judgmentConfidenceAttr(data.Confidence),
			judgmentSourceAttr(data.Source),
			decisionSeqAttr(data.Seq),
		)
	}
	end(ctx, err)
}

func (h *handler) StartPlanning(ctx context.Context, replan int) context.Context {
	ctx, span := h.tracer.Start(ctx, "planning",
		otelTrace.WithSpanKind(otelTrace.SpanKindClient),
	)
	span.SetAttributes(replanAttr(replan))
	return ctx
}

func (h *handler) EndPlanning(ctx context.Context, data *trace.PlanningData, err error) {
	if data != nil {
		otelTrace.SpanFromContext(ctx).SetAttributes(planStepsAttr(len(data.Steps)))
	}
	end(ctx, err)
}

func (h *handler) StartEscalation(ctx context.Context, pendingID string) context.Context {
	ctx, span := h.tracer.Start(ctx, "escalation",
		otelTrace.WithSpanKind(otelTrace.SpanKindInternal),
	)
	span.SetAttributes(escalationIDAttr(pendingID))
	return ctx
}

func (h *handler) EndEscalation(ctx context.Context, data *trace.EscalationData, err error) {
	if data != nil {
		otelTrace.SpanFromContext(ctx).SetAttributes(
			escalationStatusAttr(data.Status),
			judgmentActionAttr(data.Action),
		)
	}
	end(ctx, err)
}

func (h *handler) AddEvent(ctx context.Context, kind string, data any) {
	span := otelTrace.SpanFromContext(ctx)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			span.AddEvent(kind, otelTrace.WithAttributes(eventDataAttr(string(b))))
			return
		}
	}
	span.AddEvent(kind)
}

func (h *handler) Finish(_ context.Context) error {
	// OTel spans are exported by the TracerProvider's SpanProcessor.
	return nil
}
