package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Root is a file or directory stored in an archive under Name.
type Root struct {
	Name string // name inside the archive, slash separated
	Path string // file or directory on disk
	// When set, files of a directory root modified before this time are skipped.
	ModifiedSince time.Time
}

// Archiver creates and extracts compressed archives of directory trees.
type Archiver interface {
	// Create writes one archive at destPath holding every root.
	Create(ctx context.Context, destPath string, roots ...Root) error
	// Extract unpacks archivePath below destDir.
	Extract(ctx context.Context, archivePath string, destDir string) error
	// Ext is the file extension of the archives, with the leading dot.
	Ext() string
}

type Format string

const (
	FormatTarGz Format = "tar.gz"
	FormatZip   Format = "zip"
)

// New returns the archiver for format.
func New(format Format, logger zerolog.Logger) (Archiver, error) {
	switch format {
	case FormatTarGz, "":
		return NewTarGz(logger), nil
	case FormatZip:
		return NewZip(logger), nil
	default:
		return nil, fmt.Errorf("unknown archive format %q", format)
	}
}

// ForPath returns the archiver able to extract path. fallback is returned for
// extensions this package does not produce itself.
func ForPath(path string, fallback Archiver, logger zerolog.Logger) Archiver {
	switch archiveFormat(path) {
	case FormatTarGz:
		return NewTarGz(logger)
	case FormatZip:
		return NewZip(logger)
	default:
		return fallback
	}
}

func archiveFormat(path string) Format {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(name, ".zip"):
		return FormatZip
	default:
		return ""
	}
}

// safeJoin joins an archive entry name below destDir, refusing names that
// would escape it.
func safeJoin(destDir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid file path in archive: %s", name)
	}
	destPath := filepath.Join(destDir, clean)
	if destPath != filepath.Clean(destDir) &&
		!strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid file path in archive: %s", name)
	}
	return destPath, nil
}

func validateRoots(roots []Root) error {
	if len(roots) == 0 {
		return fmt.Errorf("nothing to archive")
	}
	seen := map[string]struct{}{}
	for _, r := range roots {
		if r.Name == "" || strings.HasPrefix(r.Name, "/") || strings.Contains(r.Name, "..") {
			return fmt.Errorf("invalid archive root name %q", r.Name)
		}
		if _, ok := seen[r.Name]; ok {
			return fmt.Errorf("duplicate archive root name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if _, err := os.Stat(r.Path); err != nil {
			return fmt.Errorf("archive root %s: %w", r.Name, err)
		}
	}
	return nil
}
