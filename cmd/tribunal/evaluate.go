package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/config"
	"github.com/m-mizutani/tribunal/evaluator"
	"github.com/urfave/cli/v3"
)

func evaluateCommand(g *globalFlags) *cli.Command {
	var (
		goalPath   string
		resultPath string
		stepID     string
	)

	return &cli.Command{
		Name:  "evaluate",
		Usage: "Judge one step result against a goal and print the decision record",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "goal",
				Aliases:     []string{"g"},
				Required:    true,
				Usage:       "Goal YAML file",
				Destination: &goalPath,
			},
			&cli.StringFlag{
				Name:        "result",
				Aliases:     []string{"r"},
				Usage:       "JSON file with the result payload; - or empty reads stdin",
				Destination: &resultPath,
			},
			&cli.StringFlag{
				Name:        "step",
				Value:       "step",
				Usage:       "Step ID of the result",
				Destination: &stepID,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			gf, err := config.LoadGoalFile(goalPath)
			if err != nil {
				return err
			}
			payload, err := readPayload(resultPath, cmd.Root().Reader)
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			rec, err := rt.evaluator.Decide(ctx, evaluator.Input{
				Goal:   gf.Goal,
				Result: tribunal.NewResult(stepID, payload),
				StepID: stepID,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.Root().Writer, rec)
		},
	}
}

func readPayload(path string, stdin io.Reader) (map[string]any, error) {
	var r io.Reader = stdin
	if path != "" && path != "-" {
		f, err := os.Open(path) // #nosec G304
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open result", goerr.V("path", path))
		}
		defer f.Close()
		r = f
	}
	if r == nil {
		r = os.Stdin
	}

	var payload map[string]any
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, goerr.Wrap(err, "failed to decode result payload", goerr.V("path", path))
	}
	return payload, nil
}

func printJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to write output")
	}
	return nil
}
