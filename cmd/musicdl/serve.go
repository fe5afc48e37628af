package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/musicdl/internal/cleanup"
	"github.com/italolelis/musicdl/internal/downloader"
	"github.com/italolelis/musicdl/internal/http/rest"
	"github.com/italolelis/musicdl/internal/logctx"
	"github.com/italolelis/musicdl/internal/notifier"
	"github.com/italolelis/musicdl/internal/telemetry"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the download service and its REST API",
		Action: r.Serve,
	}
}

// Serve runs the API server, the notifier and the temp cleanup until ctx is done.
func (r *Runner) Serve(ctx context.Context, _ *cli.Command) error {
	logger := logctx.LoggerFromContext(ctx)
	cfg := r.cfg

	logger.Info("musicdl starting...", "log_level", cfg.LogLevel, "version", version)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Downloader
	a, err := r.open(ctx, tel)
	if err != nil {
		return err
	}

	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close resources", "err", err)
		}
	}()

	// =========================================================================
	// Start API Service
	rejections := rest.NewRejections(0)
	server := setupServer(ctx, a, tel, r, rejections)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	// =========================================================================
	// Start Notification
	g.Go(func() error {
		return watchErrors(gctx, a.downloader, rejections)
	})

	if cfg.DiscordWebhookURL != "" {
		watcher := notifier.NewWatcher(notifier.NewDiscordNotifier(cfg.DiscordWebhookURL), tel)

		g.Go(func() error {
			return watcher.Run(gctx, a.downloader.Subscribe(gctx))
		})
	}

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		cleanup.Run(gctx, a.fetcher.Dir(), a.fetcher, cfg.TempRetention, cfg.CleanupInterval, tel)

		return nil
	})

	logger.Info("waiting for downloads...",
		"temp_dir", cfg.TempDir,
		"resolver", cfg.ResolverBaseURL,
		"retention", cfg.TempRetention.String(),
	)

	return g.Wait()
}

// watchErrors logs failures that happened before a transfer started and
// keeps them for the API.
func watchErrors(ctx context.Context, d *downloader.Downloader, rejections *rest.Rejections) error {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-d.OnError:
			if !ok {
				return nil
			}

			logger.Error("download rejected", "err", err)
			rejections.Add(err)
		}
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, a *app, tel *telemetry.Telemetry, r *Runner, rejections *rest.Rejections) *http.Server {
	cfg := r.cfg

	handler := rest.NewDownloadsHandler(
		cfg.API.Username,
		cfg.API.Password,
		a.downloader,
		a.prefs,
		a.history,
		a.library,
		rejections,
	)

	router := chi.NewRouter()
	router.Use(telemetry.RequestID)
	router.Use(telemetry.HTTPLogging)
	router.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	router.Handle("/metrics", tel.Handler())
	router.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
