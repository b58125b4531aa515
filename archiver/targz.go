package archiver

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// TarGz writes tar archives compressed with gzip.
type TarGz struct {
	logger zerolog.Logger
	level  int
}

func NewTarGz(logger zerolog.Logger) *TarGz {
	return &TarGz{logger: logger, level: gzip.DefaultCompression}
}

func (a *TarGz) Ext() string {
	return ".tar.gz"
}

// archiveWriters holds the file -> gzip -> tar writer chain.
type archiveWriters struct {
	tarWriter *tar.Writer
	closers   []io.Closer
}

// Close closes all writers in reverse order, returning the first error encountered.
func (aw *archiveWriters) Close() error {
	return closeAll(aw.closers)
}

func (a *TarGz) setupWriters(destPath string) (*archiveWriters, error) {
	outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("could not create archive: %w", err)
	}

	gzWriter, err := gzip.NewWriterLevel(outFile, a.level)
	if err != nil {
		_ = outFile.Close()
		return nil, fmt.Errorf("could not create gzip writer: %w", err)
	}

	tarWriter := tar.NewWriter(gzWriter)
	return &archiveWriters{
		tarWriter: tarWriter,
		closers:   []io.Closer{outFile, gzWriter, tarWriter},
	}, nil
}

func (a *TarGz) Create(ctx context.Context, destPath string, roots ...Root) (err error) {
	if err := validateRoots(roots); err != nil {
		return err
	}

	logger := a.logger.With().Str("archive", destPath).Logger()
	startTime := time.Now()
	var stored int
	var written int64

	aw, err := a.setupWriters(destPath)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := aw.Close()
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
		header, err := tar.FileInfoHeader(e.info, "")
		if err != nil {
			return fmt.Errorf("could not create tar header for %s: %w", e.srcPath, err)
		}
		header.Name = e.name
		if err := aw.tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("could not write tar header for %s: %w", e.srcPath, err)
		}
		if e.info.IsDir() {
			return nil
		}

		n, err := copyFileTo(aw.tarWriter, e.srcPath)
		if err != nil {
			return fmt.Errorf("could not copy %s to archive: %w", e.srcPath, err)
		}
		stored++
		written += n
		logger.Trace().Str("name", e.name).Int64("size", n).Msg("archived file")
		return nil
	})
}

func (a *TarGz) Extract(ctx context.Context, archivePath string, destDir string) error {
	logger := a.logger.With().Str("archive", archivePath).Str("dest", destDir).Logger()

	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("could not open archive: %w", err)
	}
	closers := []io.Closer{file}
	defer func() {
		_ = closeAll(closers)
	}()

	var reader io.Reader = file
	if !strings.HasSuffix(strings.ToLower(archivePath), ".tar") {
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("could not create gzip reader: %w", err)
		}
		closers = append(closers, gzReader)
		reader = gzReader
	}

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return err
	}

	tarReader := tar.NewReader(reader)
	var extracted int
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("could not read tar entry: %w", err)
		}

		destPath, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(destPath, tarReader, header.FileInfo().Mode().Perm(), header.ModTime); err != nil {
				return fmt.Errorf("could not extract %s: %w", header.Name, err)
			}
			extracted++
		default:
			logger.Warn().Str("name", header.Name).Msg("skipping unsupported tar entry")
		}
	}

	logger.Info().Int("files_count", extracted).Msg("extracted archive")
	return nil
}

func copyFileTo(w io.Writer, path string) (n int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return io.Copy(w, f)
}

func writeFile(destPath string, r io.Reader, perm os.FileMode, modTime time.Time) (err error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o640
	}
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	if !modTime.IsZero() {
		return os.Chtimes(destPath, modTime, modTime)
	}
	return nil
}

func closeAll(closers []io.Closer) error {
	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0o750)
}
