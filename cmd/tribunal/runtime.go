package main

import (
	"context"
	"database/sql"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/config"
	"github.com/m-mizutani/tribunal/decisionlog"
	"github.com/m-mizutani/tribunal/decisionlog/sqlite"
	"github.com/m-mizutani/tribunal/escalation"
	escsqlite "github.com/m-mizutani/tribunal/escalation/sqlite"
	"github.com/m-mizutani/tribunal/evaluator"
	"github.com/m-mizutani/tribunal/judge"
	"github.com/m-mizutani/tribunal/llm"
	"github.com/m-mizutani/tribunal/llm/claude"
	"github.com/m-mizutani/tribunal/llm/gemini"
	"github.com/m-mizutani/tribunal/llm/openai"
	"github.com/m-mizutani/tribunal/planner"
	"github.com/m-mizutani/tribunal/rule"
	"github.com/m-mizutani/tribunal/trace"
	"github.com/m-mizutani/tribunal/trace/logger"
	"github.com/m-mizutani/tribunal/trace/otel"
	"github.com/m-mizutani/tribunal/worker/mcp"
)

// runtime holds the components built from a Config.
type runtime struct {
	cfg         *config.Config
	log         decisionlog.Log
	store       escalation.Store
	escalations *escalation.Manager
	evaluator   *evaluator.Evaluator
	completer   llm.Completer
	traces      trace.Repository

	db      *sql.DB
	closers []func() error
}

type runtimeOption func(*runtimeOptions)

type runtimeOptions struct {
	notifier escalation.Notifier
}

func withNotifier(n escalation.Notifier) runtimeOption {
	return func(o *runtimeOptions) {
		o.notifier = n
	}
}

func newRuntime(ctx context.Context, cfg *config.Config, opts ...runtimeOption) (*runtime, error) {
	var o runtimeOptions
	for _, opt := range opts {
		opt(&o)
	}

	rt := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close(ctx)
		}
	}()

	if err := rt.setupStorage(); err != nil {
		return nil, err
	}
	if err := rt.setupTraceRepository(ctx); err != nil {
		return nil, err
	}

	var rules *rule.Engine
	if cfg.Evaluation.RuleSet != "" {
		engine, err := rule.LoadFile(cfg.Evaluation.RuleSet)
		if err != nil {
			return nil, err
		}
		rules = engine
	}

	completer, err := newCompleter(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	rt.completer = completer

	var semantic evaluator.SemanticJudge
	if completer != nil {
		model, err := judge.NewLLM(completer)
		if err != nil {
			return nil, err
		}
		semantic = judge.New(model)
	} else {
		ctxlog.From(ctx).Warn("no LLM provider configured, undecided results will escalate")
	}

	evalOpts := append(cfg.EvaluatorOptions(), evaluator.WithDecisionLog(rt.log))
	rt.evaluator = evaluator.New(rules, semantic, evalOpts...)

	escOpts := append(cfg.EscalationOptions(), escalation.WithStore(rt.store))
	if o.notifier != nil {
		escOpts = append(escOpts, escalation.WithNotifier(o.notifier))
	}
	mgr, err := escalation.New(rt.log, escOpts...)
	if err != nil {
		return nil, err
	}
	rt.escalations = mgr
	rt.closers = append(rt.closers, func() error {
		mgr.Close()
		return nil
	})

	ok = true
	return rt, nil
}

func (rt *runtime) setupStorage() error {
	if rt.cfg.Storage.SQLitePath == "" {
		rt.log = decisionlog.NewMemory()
		rt.store = escalation.NewMemoryStore()
		return nil
	}

	log, db, err := sqlite.Open(rt.cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	rt.db = db
	rt.log = log

	store, err := escsqlite.New(db)
	if err != nil {
		return err
	}
	rt.store = store
	return nil
}

func (rt *runtime) setupTraceRepository(ctx context.Context) error {
	tc := rt.cfg.Trace
	switch {
	case tc.Bucket != "":
		repo, err := trace.NewCSRepository(ctx, tc.Bucket, tc.Prefix)
		if err != nil {
			return goerr.Wrap(err, "failed to create Cloud Storage trace repository", goerr.V("bucket", tc.Bucket))
		}
		rt.traces = repo
		rt.closers = append(rt.closers, repo.Close)
	case tc.Dir != "":
		rt.traces = trace.NewFileRepository(tc.Dir)
	}
	return nil
}

// traceHandler combines structured logging, the trace recorder and OTel.
func (rt *runtime) traceHandler(ctx context.Context) trace.Handler {
	handlers := []trace.Handler{
		logger.New(logger.WithLogger(ctxlog.From(ctx))),
	}
	if rt.traces != nil {
		handlers = append(handlers, trace.New(trace.WithRepository(rt.traces)))
	}
	if rt.cfg.Trace.OTel {
		handlers = append(handlers, otel.New())
	}
	return trace.Multi(handlers...)
}

// worker builds the MCP worker from the config.
func (rt *runtime) worker() (*mcp.Worker, error) {
	mc := rt.cfg.Worker.MCP
	var w *mcp.Worker
	switch {
	case mc.Command != "":
		w = mcp.NewStdio(mc.Command, mc.Args, mcp.WithEnvVars(mc.Env))
	case mc.URL != "":
		w = mcp.NewSSE(mc.URL, mcp.WithHeaders(mc.Headers))
	default:
		return nil, goerr.New("worker.mcp.command or worker.mcp.url is required")
	}
	rt.closers = append(rt.closers, w.Close)
	return w, nil
}

// planner returns the LLM planner, or one that always fails when no model
// is configured. Failed planning still consumes a replan.
func (rt *runtime) planner(tools []string) (tribunal.Planner, error) {
	if rt.completer == nil {
		return unavailablePlanner{}, nil
	}
	return planner.New(rt.completer, planner.WithTools(tools...))
}

// Close releases every component; errors are only logged.
func (rt *runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			ctxlog.From(ctx).Warn("failed to close component", "error", err)
		}
	}
	rt.closers = nil

	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			ctxlog.From(ctx).Warn("failed to close database", "error", err)
		}
		rt.db = nil
	}
}

type unavailablePlanner struct{}

func (unavailablePlanner) Replan(context.Context, tribunal.Feedback) ([]tribunal.StepSpec, error) {
	return nil, goerr.Wrap(tribunal.ErrPlanning, "no LLM provider configured")
}

func newCompleter(ctx context.Context, c config.LLMConfig) (llm.Completer, error) {
	switch c.Provider {
	case "":
		return nil, nil

	case "claude":
		var opts []claude.Option
		if c.Model != "" {
			opts = append(opts, claude.WithModel(c.Model))
		}
		if c.APIKey == "" {
			return claude.NewWithVertex(ctx, c.Location, c.Project, opts...)
		}
		return claude.New(c.APIKey, opts...)

	case "openai":
		var opts []openai.Option
		if c.Model != "" {
			opts = append(opts, openai.WithModel(c.Model))
		}
		if c.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(c.BaseURL))
		}
		return openai.New(c.APIKey, opts...)

	case "gemini":
		var opts []gemini.Option
		if c.Model != "" {
			opts = append(opts, gemini.WithModel(c.Model))
		}
		return gemini.New(ctx, c.Project, c.Location, opts...)

	default:
		return nil, goerr.Wrap(config.ErrInvalidConfig, "unknown llm provider", goerr.V("provider", c.Provider))
	}
}
