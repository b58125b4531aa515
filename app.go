package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/archiver"
	"github.com/stupid-simple/intake-backup/audit"
	"github.com/stupid-simple/intake-backup/backup"
	"github.com/stupid-simple/intake-backup/config"
	"github.com/stupid-simple/intake-backup/database"
	"github.com/stupid-simple/intake-backup/fileutils"
	"github.com/stupid-simple/intake-backup/lock"
	"github.com/stupid-simple/intake-backup/recovery"
	"github.com/stupid-simple/intake-backup/scheduler"
)

const metadataFile = "metadata.db"

// application wires the managers of one invocation.
type application struct {
	cfg       *config.Config
	db        *database.Database
	audit     *audit.Sink
	backups   *backup.Manager
	recovery  *recovery.Manager
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
}

func openApplication(args Command, logger zerolog.Logger) (*application, error) {
	if args.Config == "" {
		return nil, errors.New("no config file specified, use --config or BACKUP_CONFIG")
	}
	cfg, err := config.LoadFromFile(args.Config)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}
	logger.Debug().Object("config", cfg).Msg("config loaded")

	metadataPath := args.Database
	if metadataPath == "" {
		metadataPath = filepath.Join(cfg.BackupRoot, metadataFile)
	}
	return newApplication(cfg, metadataPath, logger)
}

func newApplication(cfg *config.Config, metadataPath string, logger zerolog.Logger) (*application, error) {
	if err := fileutils.EnsureWritableDir(cfg.BackupRoot); err != nil {
		return nil, fmt.Errorf("backup root must be writable: %w", err)
	}
	arch, err := archiver.New(archiver.Format(cfg.ArchiveFormat), logger)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(metadataPath, logger)
	if err != nil {
		return nil, fmt.Errorf("could not open metadata database: %w", err)
	}

	sink := audit.New(db, logger)
	backups := backup.NewManager(backup.ManagerParams{
		Root:     cfg.BackupRoot,
		Store:    db,
		Archiver: arch,
		Connect:  backup.SQLDumpConnector(cfg.Database.Driver, cfg.DatabaseDSN(), logger),
		Sources:  sourcesFromConfig(cfg),
		Locker:   lock.New(cfg.BackupRoot, logger, lock.WithStaleAfter(cfg.LockStaleAfter.Duration)),
		Logger:   logger,
	},
		backup.WithRetention(retentionFromConfig(cfg)),
		backup.WithAuditor(sink),
	)

	return &application{
		cfg:     cfg,
		db:      db,
		audit:   sink,
		backups: backups,
		recovery: recovery.NewManager(recovery.RecoveryParams{
			Backups: backups,
			Auditor: sink,
			Logger:  logger,
		}),
		scheduler: scheduler.NewScheduler(scheduler.SchedulerParams{
			Store:   db,
			Creator: backups,
			Logger:  logger,
		}),
		logger: logger,
	}, nil
}

func (a *application) Close() error {
	return a.db.Close()
}

func sourcesFromConfig(cfg *config.Config) backup.Sources {
	return backup.Sources{
		AppRoot:     cfg.AppRoot,
		UploadsDir:  cfg.UploadsPath(),
		LogsDir:     cfg.LogsPath(),
		LogMaxAge:   cfg.LogMaxAge.Duration,
		ConfigFiles: cfg.ConfigFiles,
	}
}

func retentionFromConfig(cfg *config.Config) backup.Policy {
	return backup.Policy{
		KeepPerType: cfg.Retention.KeepPerType,
		MaxAge:      cfg.Retention.MaxAge.Duration,
	}
}
