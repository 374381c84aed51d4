package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"cloudaudit/internal/artifact"
	"cloudaudit/internal/config"
)

func main() {
	// A .env file is optional; environment variables win over it.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the failure class to the process exit code: 2 for
// configuration and artifact validation problems, 1 for everything else
// (stage failures, external service failures, cancellation).
func exitCode(err error) int {
	var cerr *config.Error
	if errors.As(err, &cerr) {
		return 2
	}
	var verr *artifact.ValidationError
	if errors.As(err, &verr) {
		return 2
	}
	return 1
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("CLOUDAUDIT_LOG")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
