package trace

import (
	"context"
	"errors"
)

// multiHandler fans out trace events to multiple Handler implementations.
// Each handler receives its own isolated context to prevent interference
// (e.g., two Recorders sharing the same context key).
type multiHandler struct {
	handlers []Handler
}

// Multi creates a Handler that forwards all events to the given handlers.
// Nil handlers are skipped.
func Multi(handlers ...Handler) Handler {
	var hs []Handler
	for _, h := range handlers {
		if h != nil {
			hs = append(hs, h)
		}
	}
	return &multiHandler{handlers: hs}
}

// multiCtxKey is the context key for per-handler contexts.
type multiCtxKey struct{}

// getContexts retrieves per-handler contexts from the context.
// If not found, returns the base context for each handler.
func (m *multiHandler) getContexts(ctx context.Context) []context.Context {
	if v, ok := ctx.Value(multiCtxKey{}).([]context.Context); ok && len(v) == len(m.handlers) {
		return v
	}
	ctxs := make([]context.Context, len(m.handlers))
	for i := range ctxs {
		ctxs[i] = ctx
	}
	return ctxs
}

// start derives a child context from every handler.
func (m *multiHandler) start(ctx context.Context, fn func(h Handler, hctx context.Context) context.Context) context.Context {
	parentCtxs := m.getContexts(ctx)
	handlerCtxs := make([]context.Context, len(m.handlers))
	for i, h := range m.handlers {
		handlerCtxs[i] = fn(h, parentCtxs[i])
	}
	return context.WithValue(ctx, multiCtxKey{}, handlerCtxs)
}

func (m *multiHandler) each(ctx context.Context, fn func(h Handler, hctx context.Context)) {
	ctxs := m.getContexts(ctx)
	for i, h := range m.handlers {
		fn(h, ctxs[i])
	}
}

func (m *multiHandler) StartEpisode(ctx context.Context, info EpisodeInfo) context.Context {
	return m.start(ctx, func(h Handler, hctx context.Context) context.Context {
		return h.StartEpisode(hctx, info)
	})
}

func (m *multiHandler) EndEpisode(ctx context.Context, state string, err error) {
	m.each(ctx, func(h Handler, hctx context.Context) { h.EndEpisode(hctx, state, err) })
}

func (m *multiHandler) StartStep(ctx context.Context, step StepInfo) context.Context {
	return m.start(ctx, func(h Handler, hctx context.Context) context.Context {
		return h.StartStep(hctx, step)
	})
}

func (m *multiHandler) EndStep(ctx context.Context, result map[string]any, err error) {
	m.each(ctx, func(h Handler, hctx context.Context) { h.EndStep(hctx, result, err) })
}

func (m *multiHandler) StartEvaluation(ctx context.Context) context.Context {
	return m.start(ctx, func(h Handler, hctx context.Context) context.Context {
		return h.StartEvaluation(hctx)
	})
}

func (m *multiHandler) EndEvaluation(ctx context.Context, data *EvaluationData, err error) {
	m.each(ctx, func(h Handler, hctx context.Context) { h.EndEvaluation(hctx, data, err) })
}

func (m *multiHandler) StartPlanning(ctx context.Context, replan int) context.Context {
	return m.start(ctx, func(h Handler, hctx context.Context) context.Context {
		return h.StartPlanning(hctx, replan)
	})
}

func (m *multiHandler) EndPlanning(ctx context.Context, data *PlanningData, err error) {
	m.each(ctx, func(h Handler, hctx context.Context) { h.EndPlanning(hctx, data, err) })
}

func (m *multiHandler) StartEscalation(ctx context.Context, pendingID string) context.Context {
	return m.start(ctx, func(h Handler, hctx context.Context) context.Context {
		return h.StartEscalation(hctx, pendingID)
	})
}

func (m *multiHandler) EndEscalation(ctx context.Context, data *EscalationData, err error) {
	m.each(ctx, func(h Handler, hctx context.Context) { h.EndEscalation(hctx, data, err) })
}

func (m *multiHandler) AddEvent(ctx context.Context, kind string, data any) {
	m.each(ctx, func(h Handler, hctx context.Context) { h.AddEvent(hctx, kind, data) })
}

func (m *multiHandler) Finish(ctx context.Context) error {
	var errs []error
	m.each(ctx, func(h Handler, hctx context.Context) {
		if err := h.Finish(hctx); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
