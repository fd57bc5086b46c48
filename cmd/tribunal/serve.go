package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

func serveCommand(g *globalFlags) *cli.Command {
	var addr string

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the review API over persisted escalations and traces",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Value:       ":18900",
				Sources:     cli.EnvVars("TRIBUNAL_ADDR"),
				Usage:       "Server listen address",
				Destination: &addr,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			// re-arm timeouts of escalations left pending by an earlier run
			if err := rt.escalations.Restore(ctx); err != nil {
				return err
			}

			return newServer(rt.escalations, withAddr(addr), withTraces(rt.traces)).start(ctx)
		},
	}
}
