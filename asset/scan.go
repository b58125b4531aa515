package asset

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

type scanOptions struct {
	modifiedSince time.Time
}

type ScanOption func(o *scanOptions)

// Only yield files modified at or after t.
func WithModifiedSince(t time.Time) ScanOption {
	return func(o *scanOptions) {
		o.modifiedSince = t
	}
}

// ScanDirectory walks dirPath and yields its regular files. Unreadable entries
// are logged and skipped.
func ScanDirectory(ctx context.Context, dirPath string, logger zerolog.Logger, opts ...ScanOption) (iter.Seq[Asset], error) {
	o := scanOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	return func(yield func(Asset) bool) {
		var scannedCount int
		var statFiles int

		logger := logger.With().Str("dir", dirPath).Logger()
		logger.Debug().Msg("start scanning for assets")
		defer func() {
			logger.Debug().
				Int("scanned", statFiles).
				Int("scanned_success", scannedCount).
				Msg("done scanning assets")
		}()

		throttledLogger := logger.Sample(&zerolog.BurstSampler{
			Burst:  1,
			Period: 1 * time.Second,
		})
		err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return filepath.SkipAll
			}

			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("could not scan path")
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("could not stat path")
				return nil
			}
			statFiles++

			if !o.modifiedSince.IsZero() && info.ModTime().Before(o.modifiedSince) {
				return nil
			}

			newAsset, err := NewFromFS(dirPath, path, info)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("could not create asset")
				return nil
			}

			if !yield(newAsset) {
				return filepath.SkipAll
			}
			scannedCount++
			logger.Trace().Object("asset", newAsset).Msg("scanned asset")
			throttledLogger.Info().
				Int("scanned", statFiles).
				Int("scanned_success", scannedCount).
				Msg("scanning assets")

			return nil
		})
		if err != nil {
			logger.Error().Err(err).Msg("could not scan path")
		}
	}, nil
}
