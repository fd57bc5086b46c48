package internal

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/ctxlog"
)

var testLogger *slog.Logger

func init() {
	testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	if os.Getenv("TRIBUNAL_TEST_LOG") == "1" {
		testLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
}

func TestLogger() *slog.Logger {
	return testLogger
}

// TestContext returns a context carrying the test logger.
func TestContext() context.Context {
	return ctxlog.With(context.Background(), testLogger)
}
