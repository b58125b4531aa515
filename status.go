package main

import (
	"context"
	"fmt"

	"github.com/docker/go-units"
	"github.com/stupid-simple/intake-backup/model"
)

func statusCommand(ctx context.Context, app *application, args Command, std streams) error {
	entries, err := app.scheduler.List(ctx)
	if err != nil {
		return err
	}
	active := 0
	for _, e := range entries {
		if e.Enabled {
			active++
		}
	}
	fmt.Fprintf(std.out, "Schedules: %d active, %d inactive\n", active, len(entries)-active)

	counts, err := app.db.CountRecords(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(std.out, "Backups: %d completed, %d failed, %d running\n",
		counts[model.StatusCompleted], counts[model.StatusFailed], counts[model.StatusRunning])

	usage, err := app.backups.DiskUsage()
	if err != nil {
		return err
	}
	fmt.Fprintf(std.out, "Disk usage: %s in %s\n", units.HumanSize(float64(usage)), app.cfg.BackupRoot)
	if limit := app.cfg.DiskWarning.Size; limit > 0 && usage > limit {
		fmt.Fprintf(std.out, "WARNING: disk usage is above %s\n", app.cfg.DiskWarning)
		app.logger.Warn().Int64("usage", usage).Int64("limit", limit).Msg("backup disk usage above warning level")
	}

	recent, err := app.backups.List(ctx, args.Status.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(std.out)
	fmt.Fprintln(std.out, "Recent backups:")
	if len(recent) == 0 {
		fmt.Fprintln(std.out, "  none")
	} else {
		printRecords(std, recent)
	}

	upcoming, err := app.scheduler.Upcoming(ctx, args.Status.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(std.out)
	fmt.Fprintln(std.out, "Upcoming runs:")
	if len(upcoming) == 0 {
		fmt.Fprintln(std.out, "  none")
	} else {
		printSchedules(std, upcoming)
	}

	stale, err := app.backups.Stale(ctx, app.cfg.StaleRunningAfter.Duration)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		fmt.Fprintln(std.out)
		fmt.Fprintf(std.out, "Running for more than %s, probably interrupted:\n", app.cfg.StaleRunningAfter.Duration)
		for _, r := range stale {
			fmt.Fprintf(std.out, "  %s (%s, started %s)\n", r.ID, r.Type, formatTime(r.StartedAt))
		}
	}
	return nil
}
