package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
)

func deleteCommand(ctx context.Context, app *application, args Command, std streams) error {
	del := args.Recovery.Delete
	if err := app.backups.Delete(ctx, del.ID, del.Force); err != nil {
		return err
	}
	fmt.Fprintf(std.out, "backup %s deleted\n", del.ID)
	return nil
}

func cleanCommand(ctx context.Context, app *application, args Command, std streams) error {
	policy := retentionFromConfig(app.cfg)
	if !policy.Enabled() {
		fmt.Fprintln(std.out, "no retention policy configured")
		return nil
	}

	startTime := time.Now()
	app.logger.Info().Int("keep_per_type", policy.KeepPerType).Dur("max_age", policy.MaxAge).Msg("starting cleaning old backups")
	defer func() {
		tookSeconds := time.Since(startTime).Seconds()
		if ctx.Err() != nil {
			app.logger.Info().Float64("seconds", tookSeconds).Msg("cleaning cancelled")
		} else {
			app.logger.Info().Float64("seconds", tookSeconds).Msg("cleaning done")
		}
	}()

	if args.Recovery.Cleanup.DryRun {
		candidates, err := app.backups.Candidates(ctx, policy)
		if err != nil {
			return err
		}
		var total int64
		for _, r := range candidates {
			fmt.Fprintf(std.out, "would delete %s (%s, %s)\n", r.ID, r.Type, formatTime(r.StartedAt))
			total += r.SizeBytes
		}
		fmt.Fprintf(std.out, "%d backups, %s\n", len(candidates), units.HumanSize(float64(total)))
		return nil
	}

	removed, err := app.backups.Cleanup(ctx, policy)
	fmt.Fprintf(std.out, "%d backups deleted\n", removed)
	return err
}

func auditCommand(ctx context.Context, app *application, args Command, std streams) error {
	events, err := app.audit.List(ctx, args.Recovery.Audit.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(std.out, "no audit events")
		return nil
	}
	w := tabwriter.NewWriter(std.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tSEVERITY\tACTION\tSUBJECT")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", formatTime(e.At), e.Severity, e.Action, e.Subject)
	}
	return w.Flush()
}
