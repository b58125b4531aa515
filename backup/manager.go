// Package backup creates backups of the intake application, records them in
// the metadata store and enforces retention.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/archiver"
	"github.com/stupid-simple/intake-backup/audit"
	"github.com/stupid-simple/intake-backup/database"
	"github.com/stupid-simple/intake-backup/faults"
	"github.com/stupid-simple/intake-backup/fileutils"
	"github.com/stupid-simple/intake-backup/lock"
	"github.com/stupid-simple/intake-backup/model"
	"github.com/stupid-simple/intake-backup/sqldump"
)

// Store is the part of the metadata store owned by the manager.
type Store interface {
	CreateRecord(ctx context.Context, r *model.Record) error
	SaveRecord(ctx context.Context, r *model.Record) error
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	FindRecords(ctx context.Context, opts ...database.FindRecordsOptions) ([]model.Record, error)
	DeleteRecord(ctx context.Context, id string) error
}

// LiveDB is a connection to the application database.
type LiveDB interface {
	Dump(ctx context.Context, w io.Writer) (sqldump.DumpStats, error)
	Replay(ctx context.Context, r io.Reader) (int, error)
	Close() error
}

// Connector opens a connection to the application database.
type Connector func(ctx context.Context) (LiveDB, error)

// SQLDumpConnector connects with the sqldump package.
func SQLDumpConnector(driver, dsn string, logger zerolog.Logger) Connector {
	return func(ctx context.Context) (LiveDB, error) {
		db, err := sqldump.Open(ctx, driver, dsn, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}

type Auditor interface {
	Record(ctx context.Context, e audit.Event) (*model.AuditEvent, error)
}

type ManagerParams struct {
	Root     string
	Store    Store
	Archiver archiver.Archiver
	Connect  Connector
	Sources  Sources
	Locker   *lock.Locker
	Logger   zerolog.Logger
}

type Manager struct {
	root     string
	store    Store
	archiver archiver.Archiver
	connect  Connector
	sources  Sources
	locker   *lock.Locker
	logger   zerolog.Logger
	options
}

func NewManager(params ManagerParams, opts ...Option) *Manager {
	o := options{
		now:      time.Now,
		newID:    uuid.NewString,
		notifier: LogNotifier{Logger: params.Logger},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		root:     params.Root,
		store:    params.Store,
		archiver: params.Archiver,
		connect:  params.Connect,
		sources:  params.Sources,
		locker:   params.Locker,
		logger:   params.Logger,
		options:  o,
	}
}

func (m *Manager) Root() string {
	return m.root
}

// Dir is the directory holding the artifacts of backup id.
func (m *Manager) Dir(id string) string {
	return filepath.Join(m.root, id)
}

func (m *Manager) Sources() Sources {
	return m.sources
}

func (m *Manager) Archiver() archiver.Archiver {
	return m.archiver
}

func (m *Manager) Locker() *lock.Locker {
	return m.locker
}

func (m *Manager) Now() time.Time {
	return m.now()
}

func (m *Manager) Connect(ctx context.Context) (LiveDB, error) {
	if m.connect == nil {
		return nil, fmt.Errorf("no application database configured: %w", faults.ErrConnection)
	}
	return m.connect(ctx)
}

// Create runs a backup of the given type. The returned record is terminal.
// On failure it is returned together with the error, its artifacts are left
// on disk for inspection.
func (m *Manager) Create(ctx context.Context, typ model.BackupType, opts model.Options) (*model.Record, error) {
	if _, err := model.ParseBackupType(string(typ)); err != nil {
		return nil, err
	}
	if err := fileutils.EnsureWritableDir(m.root); err != nil {
		return nil, fmt.Errorf("backup root %s: %w", m.root, err)
	}

	rec := &model.Record{
		ID:        m.newID(),
		Type:      typ,
		Status:    model.StatusRunning,
		StartedAt: m.now().UTC(),
		Options:   opts,
	}
	if err := m.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}

	logger := m.logger.With().Str("backup", rec.ID).Str("type", string(typ)).Logger()
	startTime := time.Now()
	logger.Info().Bool("compress", opts.Compress).Str("description", opts.Description).Msg("starting backup")

	paths, err := m.build(ctx, rec, logger)
	artifacts, digestErr := digest(paths)
	rec.Artifacts = artifacts
	err = errors.Join(err, digestErr)

	completedAt := m.now().UTC()
	rec.CompletedAt = &completedAt
	// The record must reach a terminal state even if ctx was cancelled.
	saveCtx := context.WithoutCancel(ctx)

	if err != nil {
		rec.Status = model.StatusFailed
		rec.Error = err.Error()
		if saveErr := m.store.SaveRecord(saveCtx, rec); saveErr != nil {
			logger.Error().Err(saveErr).Msg("could not record backup failure")
		}
		logger.Error().Err(err).Float64("seconds", time.Since(startTime).Seconds()).Msg("backup failed")
		if opts.NotifyOnFailure && m.notifier != nil {
			m.notifier.NotifyFailure(saveCtx, rec, err)
		}
		return rec, fmt.Errorf("backup %s failed: %w", rec.ID, err)
	}

	rec.Status = model.StatusCompleted
	for _, a := range rec.Artifacts {
		rec.SizeBytes += a.Size
	}
	if err := m.store.SaveRecord(saveCtx, rec); err != nil {
		return rec, fmt.Errorf("record backup %s: %w", rec.ID, err)
	}
	logger.Info().
		Int("files", len(rec.Artifacts)).
		Int64("size", rec.SizeBytes).
		Float64("seconds", time.Since(startTime).Seconds()).
		Msg("backup done")

	if !rec.IsSafetyBackup() && m.retention.Enabled() {
		removed, err := m.Cleanup(saveCtx, m.retention)
		if err != nil {
			logger.Error().Err(err).Msg("cleanup after backup failed")
		} else if removed > 0 {
			logger.Info().Int("removed", removed).Msg("cleanup after backup")
		}
	}
	return rec, nil
}

func (m *Manager) build(ctx context.Context, rec *model.Record, logger zerolog.Logger) ([]string, error) {
	ctx, lease, err := m.locker.Acquire(ctx, rec.Type.Resources()...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(); err != nil {
			logger.Warn().Err(err).Msg("could not release lease")
		}
	}()

	dir := m.Dir(rec.ID)
	if err := ensureDir(dir); err != nil {
		return nil, err
	}

	compress := rec.Options.Compress
	switch rec.Type {
	case model.TypeDatabase:
		return m.backupDatabase(ctx, dir, compress, logger)
	case model.TypeFiles:
		paths, err := m.backupFiles(ctx, dir, compress, logger)
		if err == nil && len(paths) == 0 {
			err = fmt.Errorf("no files below %s: %w", m.sources.UploadsDir, faults.ErrMissingArtifact)
		}
		return paths, err
	case model.TypeConfig:
		return m.backupConfig(ctx, dir, logger)
	case model.TypeFull:
		return m.backupFull(ctx, dir, compress, logger)
	default:
		return nil, fmt.Errorf("unknown backup type %q", rec.Type)
	}
}

// digest collects size and checksum of every existing artifact.
func digest(paths []string) ([]model.Artifact, error) {
	artifacts := make([]model.Artifact, 0, len(paths))
	var errs []error
	for i, p := range paths {
		hash, size, err := fileutils.FileDigest(p)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("checksum %s: %w", p, err))
			}
			continue
		}
		artifacts = append(artifacts, model.Artifact{Seq: i, Path: p, Size: size, Hash: int64(hash)})
	}
	return artifacts, errors.Join(errs...)
}

func (m *Manager) Get(ctx context.Context, id string) (*model.Record, error) {
	return m.store.GetRecord(ctx, id)
}

// List returns records of every status, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]model.Record, error) {
	return m.store.FindRecords(ctx, database.WithLimit(limit), database.WithArtifacts())
}

// ListAvailable returns the completed records that can be restored, newest
// first.
func (m *Manager) ListAvailable(ctx context.Context, limit int) ([]model.Record, error) {
	return m.store.FindRecords(ctx,
		database.WithStatuses(model.StatusCompleted),
		database.WithLimit(limit),
		database.WithArtifacts(),
	)
}

// Stale returns records still running after olderThan. They most likely
// belong to a killed process and need an operator decision.
func (m *Manager) Stale(ctx context.Context, olderThan time.Duration) ([]model.Record, error) {
	return m.store.FindRecords(ctx,
		database.WithStatuses(model.StatusRunning),
		database.WithStartedBefore(m.now().UTC().Add(-olderThan)),
		database.WithOldestFirst(),
	)
}

// DiskUsage returns the bytes used below the backup root.
func (m *Manager) DiskUsage() (int64, error) {
	return fileutils.DirSize(m.root)
}

// Delete removes the artifacts and record of a backup. Missing artifacts are
// an error unless force is set, since they mean the record and the disk
// disagree.
func (m *Manager) Delete(ctx context.Context, id string, force bool) error {
	rec, err := m.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == model.StatusRunning && !force {
		return fmt.Errorf("backup %s is still running: %w", id, faults.ErrInvalidState)
	}
	if err := m.remove(ctx, rec, force); err != nil {
		return err
	}
	if m.auditor != nil {
		_, err := m.auditor.Record(ctx, audit.Event{
			Action:   audit.ActionBackupDeleted,
			Severity: model.SeverityWarning,
			Subject:  id,
			Details:  map[string]string{"type": string(rec.Type), "forced": fmt.Sprint(force)},
		})
		if err != nil {
			m.logger.Error().Err(err).Str("backup", id).Msg("could not audit deletion")
		}
	}
	return nil
}

func (m *Manager) remove(ctx context.Context, rec *model.Record, force bool) error {
	logger := m.logger.With().Str("backup", rec.ID).Logger()

	missing := []string{}
	for _, f := range rec.Files() {
		if !fileutils.Exists(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		logger.Error().Strs("missing", missing).Msg("backup record lists artifacts that are not on disk")
		if !force {
			return fmt.Errorf("backup %s: %d of %d artifacts missing, first %s: %w",
				rec.ID, len(missing), len(rec.Artifacts), missing[0], faults.ErrMissingArtifact)
		}
	}

	for _, f := range rec.Files() {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove artifact %s: %w", f, err)
		}
	}
	if err := os.RemoveAll(m.Dir(rec.ID)); err != nil {
		return fmt.Errorf("remove backup directory: %w", err)
	}
	if err := m.store.DeleteRecord(ctx, rec.ID); err != nil {
		return err
	}
	logger.Info().Int("files", len(rec.Artifacts)).Msg("backup deleted")
	return nil
}
