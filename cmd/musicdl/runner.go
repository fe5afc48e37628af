package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/italolelis/musicdl/internal/config"
	"github.com/italolelis/musicdl/internal/downloader"
	"github.com/italolelis/musicdl/internal/fetcher"
	"github.com/italolelis/musicdl/internal/library"
	"github.com/italolelis/musicdl/internal/logctx"
	"github.com/italolelis/musicdl/internal/resolver"
	"github.com/italolelis/musicdl/internal/storage/sqlite"
	"github.com/italolelis/musicdl/internal/telemetry"
	"github.com/urfave/cli/v3"

	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// Runner holds what every command shares.
type Runner struct {
	cfg *config.Config
	out io.Writer
}

func NewRunner(cfg *config.Config, out io.Writer) *Runner {
	return &Runner{cfg: cfg, out: out}
}

func (r *Runner) register() []*cli.Command {
	return []*cli.Command{
		serveCommand(r),
		getCommand(r),
		destinationCommand(r),
	}
}

func (r *Runner) writePlainln(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

// app is the wired download stack.
type app struct {
	db         *sql.DB
	prefs      *sqlite.InstrumentedPreferenceRepository
	history    *sqlite.InstrumentedDownloadRepository
	library    *library.Library
	fetcher    *fetcher.Fetcher
	downloader *downloader.Downloader
}

// openStore opens the database and the repositories on top of it.
func (r *Runner) openStore(ctx context.Context, tel *telemetry.Telemetry) (*app, error) {
	logger := logctx.LoggerFromContext(ctx)

	database, err := sqlite.InitDB(r.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{
		db:      database,
		prefs:   sqlite.NewInstrumentedPreferenceRepository(database, tel),
		history: sqlite.NewInstrumentedDownloadRepository(database, tel),
	}

	if r.cfg.Destination != "" {
		seeded, err := a.prefs.SeedDestination(ctx, r.cfg.Destination)
		if err != nil {
			database.Close()

			return nil, fmt.Errorf("failed to seed destination: %w", err)
		}

		if seeded {
			logger.Info("destination seeded from configuration", "location", r.cfg.Destination)
		}
	}

	return a, nil
}

// open wires the full download stack.
func (r *Runner) open(ctx context.Context, tel *telemetry.Telemetry) (*app, error) {
	a, err := r.openStore(ctx, tel)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.cfg.TempDir, 0o700); err != nil {
		a.db.Close()

		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	client := resolver.NewClient(r.cfg.ResolverBaseURL, resolver.WithTimeout(r.cfg.ResolveTimeout))

	a.library = library.New()
	a.fetcher = fetcher.New(r.cfg.TempDir)
	a.downloader = downloader.NewDownloader(
		resolver.NewInstrumentedResolver(client, tel, "youtube"),
		a.prefs,
		a.library,
		a.fetcher,
		downloader.WithHistory(a.history),
		downloader.WithMetrics(tel),
	)

	return a, nil
}

// Close stops running downloads and releases storage.
func (a *app) Close() error {
	if a.downloader != nil {
		a.downloader.Close()
	}

	var errs []error

	if a.library != nil {
		errs = append(errs, a.library.Close())
	}

	errs = append(errs, a.db.Close())

	return errors.Join(errs...)
}
