package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Names of the entries inside a backup directory or archive.
const (
	DatabaseFile = "database.sql"
	UploadsDir   = "uploads"
	LogsDir      = "logs"
	ConfigDir    = "config"

	FilesArchive = "files"
	FullArchive  = "full"
)

// Sources locates the live data of the application.
type Sources struct {
	AppRoot    string
	UploadsDir string
	LogsDir    string
	// Log files older than LogMaxAge are left out. Zero keeps every file.
	LogMaxAge time.Duration
	// ConfigFiles are relative to AppRoot.
	ConfigFiles []string
}

// ConfigPath returns the live path of an allow-listed config file.
func (s Sources) ConfigPath(rel string) (string, error) {
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("config file %q must be relative to the application root", rel)
	}
	return filepath.Join(s.AppRoot, rel), nil
}

// ConfigRelPath maps a config artifact path back to its allow-list entry.
// The second result is false for artifacts outside a config directory.
func ConfigRelPath(backupDir, artifact string) (string, bool) {
	rel, err := filepath.Rel(filepath.Join(backupDir, ConfigDir), artifact)
	if err != nil || !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// IsDatabasePayload reports whether path is a SQL dump, compressed or not.
func IsDatabasePayload(path string) bool {
	name := filepath.Base(path)
	return name == DatabaseFile || strings.HasPrefix(name, DatabaseFile+".")
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}
