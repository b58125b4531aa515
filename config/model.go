package config

import (
	"path/filepath"

	"github.com/rs/zerolog"
)

type Config struct {
	// AppRoot is the application directory. Relative paths below resolve
	// against it.
	AppRoot    string         `json:"app_root"`
	BackupRoot string         `json:"backup_root"`
	Database   DatabaseConfig `json:"database"`
	UploadsDir string         `json:"uploads_dir,omitempty"`
	LogsDir    string         `json:"logs_dir,omitempty"`
	// Only log files modified within LogMaxAge are backed up.
	LogMaxAge   Duration `json:"log_max_age,omitempty"`
	ConfigFiles []string `json:"config_files,omitempty"`

	ArchiveFormat string          `json:"archive_format,omitempty"`
	Compress      bool            `json:"compress"`
	Retention     RetentionConfig `json:"retention"`

	LockStaleAfter    Duration     `json:"lock_stale_after,omitempty"`
	StaleRunningAfter Duration     `json:"stale_running_after,omitempty"`
	DiskWarning       SizeArgument `json:"disk_warning,omitempty"`
	DaemonSchedule    string       `json:"daemon_cron,omitempty"`

	// Schedules seeded by "schedule init" when none exist.
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

type DatabaseConfig struct {
	Driver string `json:"driver,omitempty"`
	DSN    string `json:"dsn"`
}

type RetentionConfig struct {
	KeepPerType int      `json:"keep_per_type,omitempty"`
	MaxAge      Duration `json:"max_age,omitempty"`
}

type ScheduleConfig struct {
	Type        string `json:"type"`
	Frequency   string `json:"frequency"`
	Compress    *bool  `json:"compress,omitempty"`
	Description string `json:"description,omitempty"`
	Notify      bool   `json:"notify_on_failure,omitempty"`
	Disabled    bool   `json:"disabled,omitempty"`
}

// Resolve returns path unchanged when absolute, otherwise relative to
// AppRoot.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.AppRoot, path)
}

func (c *Config) UploadsPath() string {
	return c.Resolve(c.UploadsDir)
}

func (c *Config) LogsPath() string {
	return c.Resolve(c.LogsDir)
}

func (c *Config) DatabaseDSN() string {
	return c.Resolve(c.Database.DSN)
}

func (c Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("app_root", c.AppRoot)
	e.Str("backup_root", c.BackupRoot)
	e.Str("database_driver", c.Database.Driver)
	e.Str("uploads_dir", c.UploadsDir)
	e.Str("logs_dir", c.LogsDir)
	e.Strs("config_files", c.ConfigFiles)
	e.Str("archive_format", c.ArchiveFormat)
	e.Bool("compress", c.Compress)

	if c.Retention.KeepPerType > 0 {
		e.Int("keep_per_type", c.Retention.KeepPerType)
	}
	if c.Retention.MaxAge.Duration > 0 {
		e.Stringer("max_age", c.Retention.MaxAge)
	}
	if c.DiskWarning.Size > 0 {
		e.Int64("disk_warning", c.DiskWarning.Size)
	}
	e.Int("schedules", len(c.Schedules))
}
