package main

import (
	"context"
	"errors"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal/config"
	"github.com/m-mizutani/tribunal/escalation"
	"github.com/m-mizutani/tribunal/eventbus"
	"github.com/m-mizutani/tribunal/reflexion"
	"github.com/urfave/cli/v3"
)

type episodeSummary struct {
	EpisodeID   string   `json:"episode_id"`
	GoalID      string   `json:"goal_id"`
	State       string   `json:"state"`
	Reason      string   `json:"reason,omitempty"`
	Replans     int      `json:"replans"`
	Decisions   []uint64 `json:"decisions,omitempty"`
	Escalations []string `json:"escalations,omitempty"`
}

func runCommand(g *globalFlags) *cli.Command {
	var addr string

	return &cli.Command{
		Name:      "run",
		Usage:     "Run goal files as reflexion episodes on the configured MCP worker",
		ArgsUsage: "GOAL_FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Value:       ":18900",
				Sources:     cli.EnvVars("TRIBUNAL_ADDR"),
				Usage:       "Review API listen address for escalations; empty disables it",
				Destination: &addr,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return goerr.New("at least one goal file is required")
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			var jobs []reflexion.Job
			for _, path := range cmd.Args().Slice() {
				gf, err := config.LoadGoalFile(path)
				if err != nil {
					return err
				}
				jobs = append(jobs, reflexion.Job{Goal: gf.Goal, Plan: gf.Plan})
			}

			logger := ctxlog.From(ctx)
			notifier := escalation.NotifierFunc(func(ctx context.Context, p escalation.Pending) error {
				logger.Warn("human decision required",
					"escalation_id", p.ID,
					"episode_id", p.EpisodeID,
					"goal_id", p.Context.GoalID,
					"step_id", p.Context.StepID,
					"reason", p.Context.Reason,
					"resolve", "POST /api/escalations/"+p.ID+"/resolve",
				)
				return nil
			})

			rt, err := newRuntime(ctx, cfg, withNotifier(notifier))
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			worker, err := rt.worker()
			if err != nil {
				return err
			}
			tools, err := worker.Tools(ctx)
			if err != nil {
				return err
			}
			planner, err := rt.planner(tools)
			if err != nil {
				return err
			}

			bus := eventbus.New()
			bus.Subscribe([]eventbus.Type{eventbus.GoalProgress}, func(ctx context.Context, ev eventbus.Event) error {
				logger.Info("goal progress", "episode_id", ev.EpisodeID, "progress", ev.Data["progress"])
				return nil
			})

			opts := append(cfg.ReflexionOptions(),
				reflexion.WithTrace(rt.traceHandler(ctx)),
				reflexion.WithEventBus(bus),
			)
			ctrl := reflexion.New(worker, planner, rt.evaluator, rt.escalations, opts...)

			if addr != "" {
				srvCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				srv := newServer(rt.escalations, withAddr(addr), withTraces(rt.traces))
				go func() {
					if err := srv.start(srvCtx); err != nil {
						logger.Error("review API stopped", "error", err)
					}
				}()
			}

			episodes, runErr := ctrl.RunAll(ctx, jobs, cfg.Reflexion.Concurrency)

			summaries := make([]episodeSummary, 0, len(episodes))
			for _, ep := range episodes {
				if ep == nil {
					continue
				}
				summaries = append(summaries, episodeSummary{
					EpisodeID:   ep.ID,
					GoalID:      ep.Goal.ID,
					State:       ep.State.String(),
					Reason:      ep.Reason,
					Replans:     ep.Replans,
					Decisions:   ep.Decisions,
					Escalations: ep.Escalations,
				})
			}
			if err := printJSON(cmd.Root().Writer, summaries); err != nil {
				return errors.Join(runErr, err)
			}
			return runErr
		},
	}
}
