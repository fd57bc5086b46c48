package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal/config"
	"github.com/urfave/cli/v3"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	sqlitePath string
	llmAPIKey  string
}

func (g *globalFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Sources:     cli.EnvVars("TRIBUNAL_CONFIG"),
			Usage:       "YAML configuration file",
			Destination: &g.configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Value:       "info",
			Sources:     cli.EnvVars("TRIBUNAL_LOG_LEVEL"),
			Usage:       "Log level (debug, info, warn, error)",
			Destination: &g.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Value:       "text",
			Sources:     cli.EnvVars("TRIBUNAL_LOG_FORMAT"),
			Usage:       "Log format (text, json)",
			Destination: &g.logFormat,
		},
		&cli.StringFlag{
			Name:        "sqlite",
			Sources:     cli.EnvVars("TRIBUNAL_SQLITE_PATH"),
			Usage:       "SQLite file for the decision log and escalations; overrides storage.sqlite_path",
			Destination: &g.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "llm-api-key",
			Sources:     cli.EnvVars("TRIBUNAL_LLM_API_KEY"),
			Usage:       "API key of the LLM provider; overrides llm.api_key",
			Destination: &g.llmAPIKey,
		},
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		loaded, err := config.LoadFile(g.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if g.sqlitePath != "" {
		cfg.Storage.SQLitePath = g.sqlitePath
	}
	if g.llmAPIKey != "" {
		cfg.LLM.APIKey = g.llmAPIKey
	}
	return cfg, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return nil, goerr.Wrap(err, "invalid log level", goerr.V("level", level))
	}

	opts := &slog.HandlerOptions{Level: lv}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, goerr.New("invalid log format", goerr.V("format", format))
	}
}

func newApp() *cli.Command {
	var g globalFlags

	return &cli.Command{
		Name:  "tribunal",
		Usage: "Evaluate agent results and drive reflexion episodes",
		Flags: g.flags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logger, err := newLogger(os.Stderr, g.logLevel, g.logFormat)
			if err != nil {
				return ctx, err
			}
			return ctxlog.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			evaluateCommand(&g),
			runCommand(&g),
			calibrateCommand(&g),
			serveCommand(&g),
		},
	}
}
