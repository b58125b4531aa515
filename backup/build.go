package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/archiver"
	"github.com/stupid-simple/intake-backup/asset"
	"github.com/stupid-simple/intake-backup/faults"
	"github.com/stupid-simple/intake-backup/fileutils"
)

func (m *Manager) backupDatabase(ctx context.Context, dir string, compress bool, logger zerolog.Logger) ([]string, error) {
	path := filepath.Join(dir, DatabaseFile)
	if err := m.dumpDatabase(ctx, path, logger); err != nil {
		return []string{path}, err
	}
	if !compress {
		return []string{path}, nil
	}
	compressed, err := archiver.CompressFile(path)
	if err != nil {
		return []string{path}, fmt.Errorf("compress dump: %w", err)
	}
	return []string{compressed}, nil
}

func (m *Manager) dumpDatabase(ctx context.Context, path string, logger zerolog.Logger) (err error) {
	db, err := m.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("create dump file: %w", err)
	}
	stats, err := db.Dump(ctx, f)
	if err = errors.Join(err, f.Close()); err != nil {
		return fmt.Errorf("dump database: %w", err)
	}
	logger.Debug().Int("tables", stats.Tables).Int("rows", stats.Rows).Msg("database dumped")
	return nil
}

func (m *Manager) logsSince() time.Time {
	if m.sources.LogMaxAge <= 0 {
		return time.Time{}
	}
	return m.now().Add(-m.sources.LogMaxAge)
}

// fileRoots returns the archive roots of the uploads tree and, when
// present, the logs tree.
func (m *Manager) fileRoots() ([]archiver.Root, error) {
	if !fileutils.IsDir(m.sources.UploadsDir) {
		return nil, fmt.Errorf("uploads directory %s: %w", m.sources.UploadsDir, faults.ErrMissingArtifact)
	}
	roots := []archiver.Root{{Name: UploadsDir, Path: m.sources.UploadsDir}}
	if m.sources.LogsDir != "" && fileutils.IsDir(m.sources.LogsDir) {
		roots = append(roots, archiver.Root{Name: LogsDir, Path: m.sources.LogsDir, ModifiedSince: m.logsSince()})
	}
	return roots, nil
}

func (m *Manager) backupFiles(ctx context.Context, dir string, compress bool, logger zerolog.Logger) ([]string, error) {
	roots, err := m.fileRoots()
	if err != nil {
		return nil, err
	}

	if compress {
		path := filepath.Join(dir, FilesArchive+m.archiver.Ext())
		if err := m.archiver.Create(ctx, path, roots...); err != nil {
			return []string{path}, fmt.Errorf("archive files: %w", err)
		}
		return []string{path}, nil
	}

	paths := []string{}
	for _, r := range roots {
		copied, err := copyTree(ctx, r.Path, filepath.Join(dir, r.Name), r.ModifiedSince, logger)
		paths = append(paths, copied...)
		if err != nil {
			return paths, fmt.Errorf("copy %s: %w", r.Name, err)
		}
	}
	return paths, nil
}

// backupConfig copies each allow-listed file present in the application to
// config/<relative path>. Config files are never archived so that they can
// be restored one at a time.
func (m *Manager) backupConfig(ctx context.Context, dir string, logger zerolog.Logger) ([]string, error) {
	paths := []string{}
	for _, rel := range m.sources.ConfigFiles {
		if ctx.Err() != nil {
			return paths, ctx.Err()
		}
		src, err := m.sources.ConfigPath(rel)
		if err != nil {
			return paths, err
		}
		if !fileutils.Exists(src) {
			logger.Debug().Str("file", rel).Msg("config file not present, skipping")
			continue
		}
		dst := filepath.Join(dir, ConfigDir, filepath.FromSlash(rel))
		if err := fileutils.CopyFile(src, dst); err != nil {
			return paths, fmt.Errorf("copy config file %s: %w", rel, err)
		}
		paths = append(paths, dst)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("none of the %d config files exist below %s: %w",
			len(m.sources.ConfigFiles), m.sources.AppRoot, faults.ErrMissingArtifact)
	}
	return paths, nil
}

// backupFull writes database.sql, uploads/, logs/ and config/. Compressed
// backups stage the dump and config files and archive them together with
// the live file trees.
func (m *Manager) backupFull(ctx context.Context, dir string, compress bool, logger zerolog.Logger) ([]string, error) {
	if !compress {
		paths, err := m.backupDatabase(ctx, dir, false, logger)
		if err != nil {
			return paths, err
		}
		files, err := m.backupFiles(ctx, dir, false, logger)
		paths = append(paths, files...)
		if err != nil {
			return paths, err
		}
		configs, err := m.backupConfig(ctx, dir, logger)
		return append(paths, configs...), err
	}

	staging, err := os.MkdirTemp(dir, ".staging-")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			logger.Warn().Err(err).Str("staging", staging).Msg("could not remove staging directory")
		}
	}()

	dump := filepath.Join(staging, DatabaseFile)
	if err := m.dumpDatabase(ctx, dump, logger); err != nil {
		return nil, err
	}
	if _, err := m.backupConfig(ctx, staging, logger); err != nil {
		return nil, err
	}
	fileRoots, err := m.fileRoots()
	if err != nil {
		return nil, err
	}

	roots := append([]archiver.Root{
		{Name: DatabaseFile, Path: dump},
		{Name: ConfigDir, Path: filepath.Join(staging, ConfigDir)},
	}, fileRoots...)

	path := filepath.Join(dir, FullArchive+m.archiver.Ext())
	if err := m.archiver.Create(ctx, path, roots...); err != nil {
		return []string{path}, fmt.Errorf("archive full backup: %w", err)
	}
	return []string{path}, nil
}

// copyTree copies the regular files below src into dst, keeping their
// relative paths. dst is created even when there is nothing to copy.
func copyTree(ctx context.Context, src, dst string, since time.Time, logger zerolog.Logger) ([]string, error) {
	if err := ensureDir(dst); err != nil {
		return nil, err
	}
	opts := []asset.ScanOption{}
	if !since.IsZero() {
		opts = append(opts, asset.WithModifiedSince(since))
	}
	scanned, err := asset.ScanDirectory(ctx, src, logger, opts...)
	if err != nil {
		return nil, err
	}

	copied := []string{}
	for a := range scanned {
		target := filepath.Join(dst, filepath.FromSlash(a.RelPath()))
		if err := fileutils.CopyFile(a.Path(), target); err != nil {
			return copied, err
		}
		copied = append(copied, target)
	}
	return copied, ctx.Err()
}
