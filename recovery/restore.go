package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/archiver"
	"github.com/stupid-simple/intake-backup/asset"
	"github.com/stupid-simple/intake-backup/audit"
	"github.com/stupid-simple/intake-backup/backup"
	"github.com/stupid-simple/intake-backup/faults"
	"github.com/stupid-simple/intake-backup/fileutils"
	"github.com/stupid-simple/intake-backup/lock"
	"github.com/stupid-simple/intake-backup/model"
)

// Steps of a restore, in the order they run.
const (
	StepPrecheck     = "precheck"
	StepConfirm      = "confirm"
	StepLock         = "lock"
	StepSafetyBackup = "safety-backup"
	StepStage        = "stage"
	StepDatabase     = "database"
	StepFiles        = "files"
	StepConfig       = "config"
	StepAudit        = "audit"
)

const SafetyBackupDescription = "pre-restore safety backup"

type RestoreOptions struct {
	// Force skips the confirmation and the artifact verification.
	Force bool
	// SkipSafetyBackup restores without taking a database backup first.
	SkipSafetyBackup bool
	// Confirm is asked before anything changes unless Force is set.
	Confirm func(rec *model.Record) bool
	// Progress is called when a step starts.
	Progress func(step string)
}

type Result struct {
	BackupID       string
	Type           model.BackupType
	SafetyBackupID string
	// Steps that completed.
	Steps []string
	// Aside lists the live paths renamed or copied aside.
	Aside       []string
	StartedAt   time.Time
	CompletedAt time.Time
}

func (r *Result) MarshalZerologObject(e *zerolog.Event) {
	e.Str("backup", r.BackupID).
		Str("type", string(r.Type)).
		Str("safety_backup", r.SafetyBackupID).
		Strs("steps", r.Steps).
		Strs("aside", r.Aside)
}

// payload locates the restorable content of a backup, either in the backup
// directory or in the staging area.
type payload struct {
	database string
	uploads  string
	config   []configFile
}

type configFile struct {
	rel string
	src string
}

type restoreRun struct {
	*Manager
	rec     *model.Record
	opts    RestoreOptions
	res     *Result
	logger  zerolog.Logger
	lease   *lock.Lease
	staging string
}

// Restore replaces the live data with the content of a completed backup.
// Unless told otherwise it takes a database safety backup first. Each step
// aborts the restore on failure and the returned error names it. Live files
// are renamed or copied aside, never deleted.
func (m *Manager) Restore(ctx context.Context, id string, opts RestoreOptions) (*Result, error) {
	startTime := time.Now()
	res := &Result{BackupID: id, StartedAt: m.now().UTC()}
	r := &restoreRun{
		Manager: m,
		opts:    opts,
		res:     res,
		logger:  m.logger.With().Str("backup", id).Logger(),
	}

	err := r.run(ctx, id)
	if r.staging != "" {
		if rmErr := os.RemoveAll(r.staging); rmErr != nil {
			r.logger.Warn().Err(rmErr).Str("staging", r.staging).Msg("could not remove staging directory")
		}
	}
	if err != nil {
		r.logger.Error().Err(err).
			Object("result", res).
			Float64("seconds", time.Since(startTime).Seconds()).
			Msg("restore failed")
		r.auditFailure(context.WithoutCancel(ctx), err)
		return res, fmt.Errorf("restore %s failed: %w", id, err)
	}

	res.CompletedAt = m.now().UTC()
	r.logger.Info().
		Object("result", res).
		Float64("seconds", time.Since(startTime).Seconds()).
		Msg("restore done")
	return res, nil
}

func (r *restoreRun) run(ctx context.Context, id string) error {
	err := r.step(ctx, StepPrecheck, func() error {
		rec, err := r.backups.Get(ctx, id)
		if err != nil {
			return err
		}
		r.rec = rec
		r.res.Type = rec.Type
		r.logger = r.logger.With().Str("type", string(rec.Type)).Logger()
		return r.precheck()
	})
	if err != nil {
		return err
	}

	if !r.opts.Force {
		err := r.step(ctx, StepConfirm, func() error {
			if r.opts.Confirm == nil || !r.opts.Confirm(r.rec) {
				return fmt.Errorf("restore of %s was not confirmed: %w", r.rec.ID, faults.ErrPolicyViolation)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	err = r.step(ctx, StepLock, func() error {
		leaseCtx, lease, err := r.backups.Locker().Acquire(ctx, r.rec.Type.Resources()...)
		if err != nil {
			return err
		}
		ctx = leaseCtx
		r.lease = lease
		return nil
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := r.lease.Release(); err != nil {
			r.logger.Warn().Err(err).Msg("could not release lease")
		}
	}()

	if !r.opts.SkipSafetyBackup {
		err := r.step(ctx, StepSafetyBackup, func() error {
			opts := model.Options{Compress: true, Description: SafetyBackupDescription}.
				WithFlag(model.FlagSafetyBackup, true)
			safety, err := r.backups.Create(ctx, model.TypeDatabase, opts)
			if err != nil {
				return err
			}
			r.res.SafetyBackupID = safety.ID
			r.logger.Info().Str("safety_backup", safety.ID).Msg("safety backup taken")
			return nil
		})
		if err != nil {
			return err
		}
	}

	var p payload
	err = r.step(ctx, StepStage, func() error {
		var err error
		p, err = r.prepare(ctx)
		return err
	})
	if err != nil {
		return err
	}

	typ := r.rec.Type
	if typ == model.TypeDatabase || typ == model.TypeFull {
		if err := r.step(ctx, StepDatabase, func() error { return r.restoreDatabase(ctx, p.database) }); err != nil {
			return err
		}
	}
	if typ == model.TypeFiles || typ == model.TypeFull {
		if err := r.step(ctx, StepFiles, func() error { return r.restoreUploads(p.uploads) }); err != nil {
			return err
		}
	}
	if typ == model.TypeConfig || typ == model.TypeFull {
		if err := r.step(ctx, StepConfig, func() error { return r.restoreConfig(ctx, p.config) }); err != nil {
			return err
		}
	}

	return r.step(ctx, StepAudit, func() error {
		return r.auditSuccess(context.WithoutCancel(ctx))
	})
}

func (r *restoreRun) step(ctx context.Context, name string, fn func() error) error {
	if r.opts.Progress != nil {
		r.opts.Progress(name)
	}
	if err := ctx.Err(); err != nil {
		return faults.Step(name, err)
	}
	startTime := time.Now()
	r.logger.Debug().Str("step", name).Msg("restore step started")
	if err := fn(); err != nil {
		return faults.Step(name, err)
	}
	r.res.Steps = append(r.res.Steps, name)
	r.logger.Info().Str("step", name).Float64("seconds", time.Since(startTime).Seconds()).Msg("restore step done")
	return nil
}

func (r *restoreRun) precheck() error {
	if r.rec.Status != model.StatusCompleted {
		return fmt.Errorf("backup %s is %s: %w", r.rec.ID, r.rec.Status, faults.ErrInvalidState)
	}
	if r.opts.Force {
		return nil
	}
	report := check(r.rec)
	if report.OK {
		return nil
	}
	r.logger.Error().Object("report", report).Msg("backup failed verification")
	if missing := report.Missing(); len(missing) > 0 {
		return fmt.Errorf("backup %s: artifact %s: %w", r.rec.ID, missing[0], faults.ErrMissingArtifact)
	}
	return fmt.Errorf("backup %s failed verification: %s: %w",
		r.rec.ID, strings.Join(report.Problems, "; "), faults.ErrInvalidState)
}

// prepare extracts archives into the staging area and copies uploads that
// were stored raw, so that the backup itself is never moved.
func (r *restoreRun) prepare(ctx context.Context) (payload, error) {
	dir := r.backups.Dir(r.rec.ID)
	files := r.rec.Files()
	p := payload{}

	if r.rec.Type == model.TypeDatabase || r.rec.Type == model.TypeFull {
		p.database = findArtifact(files, dir, backup.IsDatabasePayload)
	}
	if r.rec.Type == model.TypeConfig || r.rec.Type == model.TypeFull {
		for _, f := range files {
			if rel, ok := backup.ConfigRelPath(dir, f); ok {
				p.config = append(p.config, configFile{rel: rel, src: f})
			}
		}
	}
	if r.rec.Type == model.TypeDatabase || r.rec.Type == model.TypeConfig {
		return p, nil
	}

	if err := r.createStaging(); err != nil {
		return p, err
	}
	p.uploads = filepath.Join(r.staging, backup.UploadsDir)

	name := backup.FilesArchive
	if r.rec.Type == model.TypeFull {
		name = backup.FullArchive
	}
	archive := findArtifact(files, dir, func(path string) bool {
		return strings.HasPrefix(filepath.Base(path), name+".")
	})
	if archive == "" {
		src := filepath.Join(dir, backup.UploadsDir)
		if !fileutils.IsDir(src) {
			return p, fmt.Errorf("uploads of backup %s: %w", r.rec.ID, faults.ErrMissingArtifact)
		}
		copied, err := fileutils.CopyDir(src, p.uploads)
		if err != nil {
			return p, fmt.Errorf("stage uploads: %w", err)
		}
		r.logger.Debug().Int("files", len(copied)).Msg("uploads staged")
		return p, nil
	}

	a := archiver.ForPath(archive, r.backups.Archiver(), r.logger)
	if err := a.Extract(ctx, archive, r.staging); err != nil {
		return p, fmt.Errorf("extract %s: %w", filepath.Base(archive), err)
	}
	if r.rec.Type == model.TypeFull {
		p.database = filepath.Join(r.staging, backup.DatabaseFile)
		configs, err := r.stagedConfig(ctx, filepath.Join(r.staging, backup.ConfigDir))
		if err != nil {
			return p, err
		}
		p.config = configs
	}
	return p, nil
}

// createStaging makes the staging area next to the live uploads directory so
// that moving the restored tree in is a rename.
func (r *restoreRun) createStaging() error {
	parent := filepath.Dir(r.backups.Sources().UploadsDir)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, ".restore-"+r.rec.ID+"-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	r.staging = staging
	return nil
}

func (r *restoreRun) stagedConfig(ctx context.Context, dir string) ([]configFile, error) {
	if !fileutils.IsDir(dir) {
		return nil, nil
	}
	scanned, err := asset.ScanDirectory(ctx, dir, r.logger)
	if err != nil {
		return nil, err
	}
	configs := []configFile{}
	for a := range scanned {
		configs = append(configs, configFile{rel: a.RelPath(), src: a.Path()})
	}
	return configs, ctx.Err()
}

func findArtifact(files []string, dir string, match func(path string) bool) string {
	for _, f := range files {
		if filepath.Dir(f) == filepath.Clean(dir) && match(f) {
			return f
		}
	}
	return ""
}

// restoreDatabase replays the dump in one transaction. A failing statement
// leaves the live database as it was.
func (r *restoreRun) restoreDatabase(ctx context.Context, path string) (err error) {
	if path == "" || !fileutils.Exists(path) {
		return fmt.Errorf("database dump of backup %s: %w", r.rec.ID, faults.ErrMissingArtifact)
	}
	in, err := archiver.OpenPayload(path)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer func() {
		err = errors.Join(err, in.Close())
	}()

	db, err := r.backups.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()

	n, err := db.Replay(ctx, in)
	if err != nil {
		return err
	}
	r.logger.Info().Int("statements", n).Msg("database replayed")
	return nil
}

// restoreUploads renames the live uploads directory aside and moves the
// staged tree into its place. If the move fails the live directory is put
// back.
func (r *restoreRun) restoreUploads(src string) error {
	if !fileutils.IsDir(src) {
		return fmt.Errorf("uploads of backup %s: %w", r.rec.ID, faults.ErrMissingArtifact)
	}
	live := r.backups.Sources().UploadsDir

	aside := ""
	if fileutils.Exists(live) {
		aside = fileutils.AsideName(live, r.now())
		if err := os.Rename(live, aside); err != nil {
			return fmt.Errorf("move live uploads aside: %w", err)
		}
		r.logger.Info().Str("aside", aside).Msg("live uploads moved aside")
	}

	if err := r.moveDir(src, live); err != nil {
		if aside != "" {
			if backErr := os.Rename(aside, live); backErr != nil {
				err = errors.Join(err, fmt.Errorf("put live uploads back from %s: %w", aside, backErr))
				r.res.Aside = append(r.res.Aside, aside)
			}
		}
		return fmt.Errorf("move restored uploads into place: %w", err)
	}
	if aside != "" {
		r.res.Aside = append(r.res.Aside, aside)
	}
	return nil
}

// restoreConfig overwrites each allow-listed config file of the backup.
// Existing live files are copied aside first.
func (r *restoreRun) restoreConfig(ctx context.Context, files []configFile) error {
	sources := r.backups.Sources()
	restored := 0
	for _, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !slices.Contains(sources.ConfigFiles, f.rel) {
			r.logger.Warn().Str("file", f.rel).Msg("config file is not allow-listed, skipping")
			continue
		}
		live, err := sources.ConfigPath(f.rel)
		if err != nil {
			return err
		}
		if fileutils.Exists(live) {
			aside := fileutils.AsideName(live, r.now())
			if err := fileutils.CopyFile(live, aside); err != nil {
				return fmt.Errorf("copy %s aside: %w", f.rel, err)
			}
			r.res.Aside = append(r.res.Aside, aside)
		}
		if err := fileutils.CopyFile(f.src, live); err != nil {
			return fmt.Errorf("restore config file %s: %w", f.rel, err)
		}
		restored++
		r.logger.Debug().Str("file", f.rel).Msg("config file restored")
	}
	if restored == 0 {
		return fmt.Errorf("no allow-listed config files in backup %s: %w", r.rec.ID, faults.ErrMissingArtifact)
	}
	r.logger.Info().Int("files", restored).Msg("config restored")
	return nil
}

func (r *restoreRun) auditSuccess(ctx context.Context) error {
	if r.auditor == nil {
		r.logger.Warn().Msg("no audit sink configured, restore not audited")
		return nil
	}
	_, err := r.auditor.Record(ctx, audit.Event{
		Action:   audit.ActionBackupRestored,
		Severity: model.SeverityCritical,
		Subject:  r.rec.ID,
		Details: map[string]string{
			"type":          string(r.rec.Type),
			"safety_backup": r.res.SafetyBackupID,
			"forced":        fmt.Sprint(r.opts.Force),
			"aside":         strings.Join(r.res.Aside, ","),
		},
	})
	return err
}

// auditFailure records restores that failed after changing something.
func (r *restoreRun) auditFailure(ctx context.Context, cause error) {
	if r.auditor == nil || r.rec == nil || !slices.Contains(r.res.Steps, StepLock) {
		return
	}
	step, _ := faults.FailedStep(cause)
	_, err := r.auditor.Record(ctx, audit.Event{
		Action:   audit.ActionRestoreFailed,
		Severity: model.SeverityCritical,
		Subject:  r.rec.ID,
		Details: map[string]string{
			"type":          string(r.rec.Type),
			"step":          step,
			"error":         cause.Error(),
			"safety_backup": r.res.SafetyBackupID,
			"aside":         strings.Join(r.res.Aside, ","),
		},
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("could not audit failed restore")
	}
}
