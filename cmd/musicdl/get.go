package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/musicdl/internal/media"
	"github.com/italolelis/musicdl/internal/notifier"
	"github.com/italolelis/musicdl/internal/task"
	"github.com/italolelis/musicdl/internal/telemetry"
	"github.com/urfave/cli/v3"
)

func getCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Download a single link and wait for it to finish",
		ArgsUsage: "<url>",
		Action:    r.Get,
	}
}

// Get submits one key and renders its progress until it settles.
func (r *Runner) Get(ctx context.Context, cmd *cli.Command) error {
	key := cmd.Args().First()
	if key == "" {
		return fmt.Errorf("a link is required")
	}

	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: false})
	if err != nil {
		return err
	}

	a, err := r.open(ctx, tel)
	if err != nil {
		return err
	}
	defer a.Close()

	// Subscribe before submitting so a failure that removes the entry right
	// away is still observed through OnError.
	snapshots := a.downloader.Subscribe(ctx)

	if !a.downloader.SubmitByKey(ctx, key) {
		return fmt.Errorf("%s is already being downloaded", key)
	}

	return r.follow(ctx, a, key, snapshots)
}

func (r *Runner) follow(ctx context.Context, a *app, key string, snapshots <-chan []task.State) error {
	var last string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-a.downloader.OnError:
			if !ok {
				return ctx.Err()
			}

			var rerr *media.ResolveError
			if errors.As(err, &rerr) && rerr.Key != key {
				continue
			}

			return cli.Exit(err.Error(), 1)
		case states, ok := <-snapshots:
			if !ok {
				return ctx.Err()
			}

			s, found := task.Find(states, key)
			if !found {
				continue
			}

			if task.IsTerminal(s) {
				r.writePlainln("%s", notifier.Message(s))

				if _, failed := s.(task.Failure); failed {
					return cli.Exit("", 1)
				}

				return nil
			}

			if line := task.Describe(s); line != last {
				r.writePlainln("%s", line)
				last = line
			}
		}
	}
}
