package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/config"
	"github.com/stupid-simple/intake-backup/fileutils"
	"github.com/stupid-simple/intake-backup/scheduler"
)

func daemonCommand(ctx context.Context, app *application, args Command, logger zerolog.Logger) error {
	seed, err := seedFromConfig(app)
	if err != nil {
		return err
	}
	if _, err := app.scheduler.Seed(ctx, seed); err != nil {
		return err
	}

	daemon, err := scheduler.NewDaemon(ctx, scheduler.DaemonParams{
		Scheduler: app.scheduler,
		Spec:      app.cfg.DaemonSchedule,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	startConfigFileWatcher(ctx, args.Config, logger, ticker, func(cfg *config.Config) {
		if err := daemon.Reschedule(cfg.DaemonSchedule); err != nil {
			logger.Error().Err(err).Msg("could not apply new due check schedule")
		}
		if cfg.BackupRoot != app.cfg.BackupRoot || cfg.DatabaseDSN() != app.cfg.DatabaseDSN() {
			logger.Warn().Msg("backup root and database changes take effect after a restart")
		}
	})

	daemon.Start()
	defer daemon.Stop()

	// Catch up right away instead of waiting for the first tick.
	daemon.Run()

	<-ctx.Done()

	return nil
}

func startConfigFileWatcher(ctx context.Context, cfgPath string, logger zerolog.Logger, ticker *time.Ticker, onChanged func(cfg *config.Config)) {
	logger.Info().Str("path", cfgPath).Msg("watching config file for changes")
	watcher, err := fileutils.WatchFile(ctx, cfgPath, when(ticker.C), func(err error) {
		logger.Error().Err(err).Msg("could not watch config file")
	})
	if err != nil {
		logger.Error().Err(err).Msg("could not watch config file")
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher:
				if !ok {
					return
				}
				logger.Info().Str("path", cfgPath).Msg("config file changed, reloading")

				cfg, err := config.LoadFromFile(cfgPath)
				if err != nil {
					logger.Error().Err(err).Msg("could not load config")
					break
				}

				onChanged(cfg)
			}
		}
	}()
}

func when[T any](ch <-chan T) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		for range ch {
			out <- struct{}{}
		}
	}()
	return out
}
