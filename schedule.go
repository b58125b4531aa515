package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/stupid-simple/intake-backup/model"
	"github.com/stupid-simple/intake-backup/scheduler"
)

func scheduleListCommand(ctx context.Context, app *application, std streams) error {
	entries, err := app.scheduler.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(std.out, "no schedules")
		return nil
	}
	printSchedules(std, entries)
	return nil
}

func printSchedules(std streams, entries []model.ScheduleEntry) {
	w := tabwriter.NewWriter(std.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tFREQUENCY\tENABLED\tLAST RUN\tNEXT RUN\tDESCRIPTION")
	for _, e := range entries {
		lastRun := "-"
		if e.LastRun != nil {
			lastRun = formatTime(*e.LastRun)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\t%s\n",
			e.ID, e.Type, e.Frequency, e.Enabled, lastRun, formatTime(e.NextRun), e.Options.Description)
	}
	_ = w.Flush()
}

func scheduleRunCommand(ctx context.Context, app *application, std streams) error {
	stats, err := app.scheduler.RunDue(ctx, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(std.out, "%d scheduled backups run\n", stats.Executed)
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d scheduled backups failed", stats.Failed, stats.Executed)
	}
	return nil
}

func scheduleAddCommand(ctx context.Context, app *application, args Command, std streams) error {
	add := args.Schedule.Add
	typ, err := model.ParseBackupType(add.Type)
	if err != nil {
		return err
	}
	freq, err := model.ParseFrequency(add.Frequency)
	if err != nil {
		return err
	}
	compress, err := parseCompress(add.Compress, app.cfg.Compress)
	if err != nil {
		return err
	}
	opts := model.Options{Compress: compress, Description: add.Description, NotifyOnFailure: add.Notify}

	var id string
	if add.At != "" {
		anchor, err := time.Parse(time.RFC3339, add.At)
		if err != nil {
			return fmt.Errorf("invalid --at time: %w", err)
		}
		id, err = app.scheduler.AddAt(ctx, typ, freq, anchor, opts)
		if err != nil {
			return err
		}
	} else {
		id, err = app.scheduler.Add(ctx, typ, freq, opts)
		if err != nil {
			return err
		}
	}

	entry, err := app.scheduler.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(std.out, "schedule %s added, next run %s\n", id, formatTime(entry.NextRun))
	return nil
}

func scheduleUpdateCommand(ctx context.Context, app *application, args Command, std streams) error {
	update := args.Schedule.Update
	freq, err := model.ParseFrequency(update.Frequency)
	if err != nil {
		return err
	}
	entry, err := app.scheduler.Get(ctx, update.ID)
	if err != nil {
		return err
	}

	opts := entry.Options
	if opts.Compress, err = parseCompress(update.Compress, opts.Compress); err != nil {
		return err
	}
	if update.Description != "" {
		opts.Description = update.Description
	}
	if update.Notify != "" {
		if opts.NotifyOnFailure, err = strconv.ParseBool(update.Notify); err != nil {
			return fmt.Errorf("invalid notify value %q: %w", update.Notify, err)
		}
	}

	entry, err = app.scheduler.Update(ctx, update.ID, freq, &opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(std.out, "schedule %s updated, %s, next run %s\n", entry.ID, entry.Frequency, formatTime(entry.NextRun))
	return nil
}

func scheduleRemoveCommand(ctx context.Context, app *application, args Command, std streams) error {
	if err := app.scheduler.Remove(ctx, args.Schedule.Remove.ID); err != nil {
		return err
	}
	fmt.Fprintf(std.out, "schedule %s removed\n", args.Schedule.Remove.ID)
	return nil
}

func scheduleEnableCommand(ctx context.Context, app *application, id string, enabled bool, std streams) error {
	if err := app.scheduler.Enable(ctx, id, enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(std.out, "schedule %s %s\n", id, state)
	return nil
}

func scheduleInitCommand(ctx context.Context, app *application, std streams) error {
	seed, err := seedFromConfig(app)
	if err != nil {
		return err
	}
	added, err := app.scheduler.Seed(ctx, seed)
	if err != nil {
		return err
	}
	fmt.Fprintf(std.out, "%d schedules created\n", added)
	return nil
}

func seedFromConfig(app *application) ([]scheduler.SeedEntry, error) {
	seed := make([]scheduler.SeedEntry, 0, len(app.cfg.Schedules))
	for i, s := range app.cfg.Schedules {
		typ, err := model.ParseBackupType(s.Type)
		if err != nil {
			return nil, fmt.Errorf("schedules[%d]: %w", i, err)
		}
		freq, err := model.ParseFrequency(s.Frequency)
		if err != nil {
			return nil, fmt.Errorf("schedules[%d]: %w", i, err)
		}
		compress := app.cfg.Compress
		if s.Compress != nil {
			compress = *s.Compress
		}
		seed = append(seed, scheduler.SeedEntry{
			Type:      typ,
			Frequency: freq,
			Enabled:   !s.Disabled,
			Options: model.Options{
				Compress:        compress,
				Description:     s.Description,
				NotifyOnFailure: s.Notify,
			},
		})
	}
	return seed, nil
}
