package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/musicdl/internal/config"
	"github.com/italolelis/musicdl/internal/logctx"
	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(cfg, os.Stdout)

	app := &cli.Command{
		Name:     "musicdl",
		Usage:    "Download music from YouTube links into your library",
		Version:  version,
		Commands: runner.register(),
	}

	if err := app.Run(logctx.WithLogger(ctx, logger), os.Args); err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}
