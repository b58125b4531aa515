// Package backuptest builds throwaway application trees, live databases and
// managers for tests.
package backuptest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stupid-simple/intake-backup/archiver"
	"github.com/stupid-simple/intake-backup/backup"
	"github.com/stupid-simple/intake-backup/database"
	"github.com/stupid-simple/intake-backup/lock"
	"github.com/stupid-simple/intake-backup/sqldump"
)

// Epoch is the start time of every Clock.
var Epoch = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

const Schema = `
CREATE TABLE complaint (id INTEGER PRIMARY KEY, subject TEXT NOT NULL, status TEXT, attachment BLOB);
CREATE INDEX complaint_status ON complaint (status);
INSERT INTO complaint VALUES (1, 'Night shift staffing', 'open', X'cafe');
INSERT INTO complaint VALUES (2, 'It''s about the pharmacy', 'triage', NULL);
`

// Clock advances by one minute on every reading.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock() *Clock {
	return &Clock{t: Epoch}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

// Set moves the clock so that the next reading is t plus one minute.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type App struct {
	Root       string
	BackupRoot string
	DBPath     string
	Sources    backup.Sources
}

// Files maps the relative paths of the seeded files to their content.
var Files = map[string]string{
	"storage/uploads/complaints/1/statement.pdf": "%PDF-1.4 statement",
	"storage/uploads/complaints/2/photo.jpg":     "\xff\xd8\xff jpeg",
	"storage/uploads/readme.txt":                 "uploads",
	"storage/logs/app-new.log":                   "recent log line",
	"storage/logs/app-old.log":                   "old log line",
	"config/app.php":                             "<?php return ['name' => 'intake'];",
	".env":                                       "APP_KEY=secret\nDB_PATH=storage/app.db\n",
	"composer.json":                              `{"name": "hospital/intake"}`,
}

// NewApp seeds an application below a temporary directory. The old log file
// is dated thirty days before Epoch.
func NewApp(t *testing.T) *App {
	t.Helper()
	base := t.TempDir()
	app := &App{
		Root:       filepath.Join(base, "app"),
		BackupRoot: filepath.Join(base, "backups"),
		DBPath:     filepath.Join(base, "app", "storage", "app.db"),
	}
	app.Sources = backup.Sources{
		AppRoot:     app.Root,
		UploadsDir:  filepath.Join(app.Root, "storage", "uploads"),
		LogsDir:     filepath.Join(app.Root, "storage", "logs"),
		LogMaxAge:   7 * 24 * time.Hour,
		ConfigFiles: []string{"config/app.php", ".env", ".htaccess", "composer.json", "composer.lock"},
	}

	for rel, content := range Files {
		WriteFile(t, filepath.Join(app.Root, rel), content)
	}
	old := Epoch.Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(app.Root, "storage/logs/app-old.log"), old, old))
	recent := Epoch.Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(app.Root, "storage/logs/app-new.log"), recent, recent))

	db := app.OpenDB(t)
	_, err := db.Replay(context.Background(), strings.NewReader(Schema))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return app
}

// OpenDB connects to the live database of the app.
func (a *App) OpenDB(t *testing.T) *sqldump.DB {
	t.Helper()
	db, err := sqldump.Open(context.Background(), sqldump.DriverSQLite, a.DBPath, zerolog.Nop())
	require.NoError(t, err)
	return db
}

// Query returns the rows of query against the live database.
func (a *App) Query(t *testing.T, query string) []map[string]any {
	t.Helper()
	db := a.OpenDB(t)
	defer db.Close()
	rows := []map[string]any{}
	require.NoError(t, db.Cli().Raw(query).Scan(&rows).Error)
	return rows
}

// Exec runs statements against the live database.
func (a *App) Exec(t *testing.T, statements string) {
	t.Helper()
	db := a.OpenDB(t)
	defer db.Close()
	_, err := db.Replay(context.Background(), strings.NewReader(statements))
	require.NoError(t, err)
}

func (a *App) Connector() backup.Connector {
	return backup.SQLDumpConnector(sqldump.DriverSQLite, a.DBPath, zerolog.Nop())
}

func (a *App) Locker() *lock.Locker {
	return lock.New(a.BackupRoot, zerolog.Nop())
}

// NewStore opens an in-memory metadata store.
func NewStore(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewManager wires a manager over the app with a tar.gz archiver.
func (a *App) NewManager(t *testing.T, store backup.Store, opts ...backup.Option) *backup.Manager {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t))
	return backup.NewManager(backup.ManagerParams{
		Root:     a.BackupRoot,
		Store:    store,
		Archiver: archiver.NewTarGz(logger),
		Connect:  a.Connector(),
		Sources:  a.Sources,
		Locker:   lock.New(a.BackupRoot, logger),
		Logger:   logger,
	}, opts...)
}

func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}

// ReadTree returns the regular files below root keyed by slash separated
// relative path.
func ReadTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}
