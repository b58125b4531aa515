package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/stupid-simple/intake-backup/archiver"
	"github.com/stupid-simple/intake-backup/model"
	"github.com/stupid-simple/intake-backup/sqldump"
)

const (
	DefaultUploadsDir     = "storage/uploads"
	DefaultLogsDir        = "storage/logs"
	DefaultLogMaxAge      = 7 * 24 * time.Hour
	DefaultKeepPerType    = 7
	DefaultStaleAfter     = 6 * time.Hour
	DefaultDaemonSchedule = "@every 1m"
)

// DefaultConfigFiles is the allow-list of configuration files, relative to
// the application root.
var DefaultConfigFiles = []string{
	"config/app.php",
	".env",
	".htaccess",
	"composer.json",
	"composer.lock",
}

func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = sqldump.DriverSQLite
	}
	if c.UploadsDir == "" {
		c.UploadsDir = DefaultUploadsDir
	}
	if c.LogsDir == "" {
		c.LogsDir = DefaultLogsDir
	}
	if c.LogMaxAge.Duration == 0 {
		c.LogMaxAge.Duration = DefaultLogMaxAge
	}
	if len(c.ConfigFiles) == 0 {
		c.ConfigFiles = append([]string(nil), DefaultConfigFiles...)
	}
	if c.ArchiveFormat == "" {
		c.ArchiveFormat = string(archiver.FormatTarGz)
	}
	if c.Retention.KeepPerType == 0 && c.Retention.MaxAge.Duration == 0 {
		c.Retention.KeepPerType = DefaultKeepPerType
	}
	if c.LockStaleAfter.Duration == 0 {
		c.LockStaleAfter.Duration = DefaultStaleAfter
	}
	if c.StaleRunningAfter.Duration == 0 {
		c.StaleRunningAfter.Duration = DefaultStaleAfter
	}
	if c.DaemonSchedule == "" {
		c.DaemonSchedule = DefaultDaemonSchedule
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.AppRoot == "" {
		errs = append(errs, errors.New("app_root is required"))
	}
	if c.BackupRoot == "" {
		errs = append(errs, errors.New("backup_root is required"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch c.Database.Driver {
	case sqldump.DriverSQLite, sqldump.DriverSQLite3:
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	switch archiver.Format(c.ArchiveFormat) {
	case archiver.FormatTarGz, archiver.FormatZip:
	default:
		errs = append(errs, fmt.Errorf("unsupported archive_format %q", c.ArchiveFormat))
	}
	if c.Retention.KeepPerType < 0 {
		errs = append(errs, errors.New("retention.keep_per_type must not be negative"))
	}
	for i, s := range c.Schedules {
		if _, err := model.ParseBackupType(s.Type); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d]: %w", i, err))
		}
		if _, err := model.ParseFrequency(s.Frequency); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
