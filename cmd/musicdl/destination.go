package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/musicdl/internal/library"
	"github.com/italolelis/musicdl/internal/storage"
	"github.com/italolelis/musicdl/internal/telemetry"
	"github.com/urfave/cli/v3"
)

func destinationCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "destination",
		Usage:     "Print or change where finished downloads are stored",
		ArgsUsage: "[location]",
		Action:    r.Destination,
	}
}

// Destination prints the stored destination, or validates and stores a new one.
func (r *Runner) Destination(ctx context.Context, cmd *cli.Command) error {
	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: false})
	if err != nil {
		return err
	}

	a, err := r.openStore(ctx, tel)
	if err != nil {
		return err
	}
	defer a.Close()

	location := cmd.Args().First()
	if location == "" {
		current, err := a.prefs.Destination(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			return cli.Exit("no destination set", 1)
		}

		if err != nil {
			return err
		}

		r.writePlainln("%s", current)

		return nil
	}

	lib := library.New()
	defer lib.Close()

	if err := lib.Validate(ctx, location); err != nil {
		return fmt.Errorf("invalid destination: %w", err)
	}

	if err := a.prefs.SetDestination(ctx, location); err != nil {
		return fmt.Errorf("failed to store destination: %w", err)
	}

	r.writePlainln("✓ Destination set: %s", location)

	return nil
}
