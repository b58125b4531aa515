package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/stupid-simple/intake-backup/model"
)

func runCommand(ctx context.Context, app *application, args Command, std streams) error {
	typ, err := model.ParseBackupType(args.Run.Type)
	if err != nil {
		return err
	}
	compress, err := parseCompress(args.Run.Compress, app.cfg.Compress)
	if err != nil {
		return err
	}

	startTime := time.Now()
	logger := app.logger.With().Str("type", string(typ)).Logger()
	logger.Info().Bool("compress", compress).Msg("starting backup")
	defer func() {
		tookSeconds := time.Since(startTime).Seconds()
		if ctx.Err() != nil {
			logger.Info().Float64("seconds", tookSeconds).Msg("backup cancelled")
		}
	}()

	rec, err := app.backups.Create(ctx, typ, model.Options{
		Compress:        compress,
		Description:     args.Run.Description,
		NotifyOnFailure: args.Run.Notify,
	})
	if rec != nil {
		printRecordSummary(std, rec)
	}
	return err
}

// parseCompress accepts "compress=true", "true" and the other forms of
// strconv.ParseBool. An empty value yields def.
func parseCompress(value string, def bool) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	value = strings.TrimPrefix(value, "compress=")
	compress, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid compress value %q, use compress=true or compress=false", value)
	}
	return compress, nil
}

func printRecordSummary(std streams, rec *model.Record) {
	fmt.Fprintf(std.out, "backup %s (%s): %s\n", rec.ID, rec.Type, rec.Status)
	if rec.Status == model.StatusCompleted {
		fmt.Fprintf(std.out, "  %d files, %s\n", len(rec.Artifacts), units.HumanSize(float64(rec.SizeBytes)))
	}
	if rec.Error != "" {
		fmt.Fprintf(std.out, "  error: %s\n", rec.Error)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
