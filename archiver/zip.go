package archiver

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
)

// Zip writes deflate-compressed zip archives.
type Zip struct {
	logger zerolog.Logger
}

func NewZip(logger zerolog.Logger) *Zip {
	return &Zip{logger: logger}
}

func (a *Zip) Ext() string {
	return ".zip"
}

func (a *Zip) Create(ctx context.Context, destPath string, roots ...Root) (err error) {
	if err := validateRoots(roots); err != nil {
		return err
	}

	logger := a.logger.With().Str("archive", destPath).Logger()
	startTime := time.Now()
	var stored int
	var written int64

	outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("could not create archive: %w", err)
	}
	zipWriter := zip.NewWriter(outFile)
	defer func() {
		closeErr := closeAll([]io.Closer{outFile, zipWriter})
		if err == nil {
			err = closeErr
		}
		if err != nil {
			logger.Warn().Err(err).Msg("could not write archive")
			return
		}
		logger.Info().
			Int("files_count", stored).
			Int64("files_size", written).
			Float64("seconds", time.Since(startTime).Seconds()).
			Msg("successfully written archive")
	}()

	return walkRoots(ctx, roots, logger, func(e entry) error {
		header, err := zip.FileInfoHeader(e.info)
		if err != nil {
			return fmt.Errorf("could not create zip header for %s: %w", e.srcPath, err)
		}
		header.Name = e.name
		if !e.info.IsDir() {
			header.Method = zip.Deflate
		}

		w, err := zipWriter.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("could not write zip header for %s: %w", e.srcPath, err)
		}
		if e.info.IsDir() {
			return nil
		}

		n, err := copyFileTo(w, e.srcPath)
		if err != nil {
			return fmt.Errorf("could not copy %s to archive: %w", e.srcPath, err)
		}
		stored++
		written += n
		logger.Trace().Str("name", e.name).Int64("size", n).Msg("archived file")
		return nil
	})
}

func (a *Zip) Extract(ctx context.Context, archivePath string, destDir string) error {
	logger := a.logger.With().Str("archive", archivePath).Str("dest", destDir).Logger()

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("could not open archive: %w", err)
	}
	defer reader.Close()

	var extracted int
	for _, f := range reader.File {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		destPath, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}

		info := f.FileInfo()
		if info.IsDir() {
			if err := mkdirAll(destPath); err != nil {
				return err
			}
			continue
		}
		if !info.Mode().IsRegular() {
			logger.Warn().Str("name", f.Name).Msg("skipping unsupported zip entry")
			continue
		}

		if err := extractZipEntry(f, destPath); err != nil {
			return fmt.Errorf("could not extract %s: %w", f.Name, err)
		}
		extracted++
	}

	logger.Info().Int("files_count", extracted).Msg("extracted archive")
	return nil
}

func extractZipEntry(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	return writeFile(destPath, io.Reader(rc), f.Mode().Perm(), f.Modified)
}
