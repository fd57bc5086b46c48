package main

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal/calibration"
	"github.com/urfave/cli/v3"
)

func calibrateCommand(g *globalFlags) *cli.Command {
	var (
		target     float64
		minSamples int64
	)

	return &cli.Command{
		Name:  "calibrate",
		Usage: "Propose confidence thresholds from resolved escalations in the decision log",
		Flags: []cli.Flag{
			&cli.FloatFlag{
				Name:        "target",
				Value:       calibration.DefaultTarget,
				Usage:       "Accuracy a proposed threshold must reach",
				Destination: &target,
			},
			&cli.Int64Flag{
				Name:        "min-samples",
				Value:       calibration.DefaultMinSamples,
				Usage:       "Samples needed at or above a threshold before it is proposed",
				Destination: &minSamples,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.SQLitePath == "" {
				return goerr.New("calibration needs a persistent decision log; set --sqlite or storage.sqlite_path")
			}

			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			tracker, err := calibration.New(rt.log,
				calibration.WithTarget(target),
				calibration.WithMinSamples(int(minSamples)),
				calibration.WithThresholds(rt.evaluator),
			)
			if err != nil {
				return err
			}

			proposals, err := tracker.Propose(ctx)
			if err != nil {
				return err
			}
			if proposals == nil {
				proposals = []calibration.Proposal{}
			}
			return printJSON(cmd.Root().Writer, proposals)
		},
	}
}
