package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/stupid-simple/intake-backup/model"
	"github.com/stupid-simple/intake-backup/recovery"
)

func recoveryListCommand(ctx context.Context, app *application, args Command, std streams) error {
	list := app.backups.ListAvailable
	if args.Recovery.List.All {
		list = app.backups.List
	}
	records, err := list(ctx, args.Recovery.List.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(std.out, "no backups")
		return nil
	}
	printRecords(std, records)
	return nil
}

func printRecords(std streams, records []model.Record) {
	w := tabwriter.NewWriter(std.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tSTARTED\tSIZE\tDESCRIPTION")
	for _, r := range records {
		description := r.Options.Description
		if r.IsSafetyBackup() && description == "" {
			description = "safety backup"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Type, r.Status, formatTime(r.StartedAt), units.HumanSize(float64(r.SizeBytes)), description)
	}
	_ = w.Flush()
}

func verifyCommand(ctx context.Context, app *application, args Command, std streams) error {
	report, err := app.recovery.Verify(ctx, args.Recovery.Verify.ID)
	if err != nil {
		return err
	}
	for _, f := range report.Files {
		state := "ok"
		switch {
		case !f.Exists:
			state = "MISSING"
		case f.Size != f.ExpectedSize:
			state = fmt.Sprintf("SIZE %d, recorded %d", f.Size, f.ExpectedSize)
		case !f.HashMatch:
			state = "CHECKSUM MISMATCH"
		}
		fmt.Fprintf(std.out, "  %s: %s\n", f.Path, state)
	}
	if !report.OK {
		for _, p := range report.Problems {
			fmt.Fprintf(std.out, "problem: %s\n", p)
		}
		return fmt.Errorf("backup %s failed verification", report.BackupID)
	}
	fmt.Fprintf(std.out, "backup %s is intact (%d files, %s)\n",
		report.BackupID, len(report.Files), units.HumanSize(float64(report.ActualSize)))
	return nil
}

func restoreCommand(ctx context.Context, app *application, args Command, std streams) error {
	restore := args.Recovery.Restore

	startTime := time.Now()
	logger := app.logger.With().Str("backup", restore.ID).Logger()
	logger.Info().Msg("starting restore")
	defer func() {
		tookSeconds := time.Since(startTime).Seconds()
		if ctx.Err() != nil {
			logger.Info().Float64("seconds", tookSeconds).Msg("restore cancelled")
		}
	}()

	res, err := app.recovery.Restore(ctx, restore.ID, recovery.RestoreOptions{
		Force:            restore.Force,
		SkipSafetyBackup: restore.NoSafetyBackup,
		Confirm:          typedConfirmation(std),
		Progress: func(step string) {
			fmt.Fprintf(std.out, "-> %s\n", step)
		},
	})
	if res != nil && res.SafetyBackupID != "" {
		fmt.Fprintf(std.out, "safety backup: %s\n", res.SafetyBackupID)
	}
	if res != nil {
		for _, aside := range res.Aside {
			fmt.Fprintf(std.out, "previous data kept at %s\n", aside)
		}
	}
	if err != nil {
		fmt.Fprintf(std.out, "restore of %s FAILED: %v\n", restore.ID, err)
		return err
	}
	fmt.Fprintf(std.out, "restore of %s (%s) done\n", res.BackupID, res.Type)
	return nil
}

// typedConfirmation asks the operator to type the backup id.
func typedConfirmation(std streams) func(rec *model.Record) bool {
	return func(rec *model.Record) bool {
		fmt.Fprintf(std.out, "Restoring %s backup %s from %s overwrites live data.\n",
			rec.Type, rec.ID, formatTime(rec.StartedAt))
		fmt.Fprint(std.out, "Type the backup id to continue: ")
		scanner := bufio.NewScanner(std.in)
		if !scanner.Scan() {
			fmt.Fprintln(std.out)
			return false
		}
		return strings.TrimSpace(scanner.Text()) == rec.ID
	}
}
