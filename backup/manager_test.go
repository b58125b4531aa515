package backup_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stupid-simple/intake-backup/archiver"
	"github.com/stupid-simple/intake-backup/backup"
	"github.com/stupid-simple/intake-backup/backup/backuptest"
	"github.com/stupid-simple/intake-backup/faults"
	"github.com/stupid-simple/intake-backup/fileutils"
	"github.com/stupid-simple/intake-backup/model"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyFailure(ctx context.Context, rec *model.Record, err error) {
	m.Called(ctx, rec, err)
}

func TestManager_CreateDatabase(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			app := backuptest.NewApp(t)
			store := backuptest.NewStore(t)
			clock := backuptest.NewClock()
			m := app.NewManager(t, store, backup.WithClock(clock.Now))

			rec, err := m.Create(context.Background(), model.TypeDatabase, model.Options{Compress: compress})
			require.NoError(t, err)

			assert.Equal(t, model.StatusCompleted, rec.Status)
			require.NotNil(t, rec.CompletedAt)
			assert.True(t, rec.CompletedAt.After(rec.StartedAt))
			assert.Empty(t, rec.Error)
			require.Len(t, rec.Artifacts, 1)

			want := filepath.Join(m.Dir(rec.ID), backup.DatabaseFile)
			if compress {
				want += archiver.ZstdExt
			}
			assert.Equal(t, want, rec.Artifacts[0].Path)
			assert.True(t, backup.IsDatabasePayload(want))

			hash, size, err := fileutils.FileDigest(want)
			require.NoError(t, err)
			assert.Equal(t, size, rec.SizeBytes)
			assert.Equal(t, int64(hash), rec.Artifacts[0].Hash)

			stored, err := m.Get(context.Background(), rec.ID)
			require.NoError(t, err)
			assert.Equal(t, rec.Files(), stored.Files())
			assert.Equal(t, compress, stored.Options.Compress)
		})
	}
}

func TestManager_CreateFiles(t *testing.T) {
	app := backuptest.NewApp(t)
	store := backuptest.NewStore(t)
	mem := archiver.NewMemory()
	m := backup.NewManager(backup.ManagerParams{
		Root:     app.BackupRoot,
		Store:    store,
		Archiver: mem,
		Sources:  app.Sources,
		Logger:   zerolog.New(zerolog.NewTestWriter(t)),
	}, backup.WithClock(backuptest.NewClock().Now))
	ctx := context.Background()

	rec, err := m.Create(ctx, model.TypeFiles, model.Options{Compress: true})
	require.NoError(t, err)
	require.Len(t, rec.Artifacts, 1)
	assert.Equal(t, filepath.Join(m.Dir(rec.ID), "files.mem"), rec.Artifacts[0].Path)

	entries := mem.Entries(rec.Artifacts[0].Path)
	assert.Contains(t, entries, "uploads/complaints/1/statement.pdf")
	assert.Contains(t, entries, "logs/app-new.log")
	assert.NotContains(t, entries, "logs/app-old.log", "logs older than the max age are skipped")

	raw, err := m.Create(ctx, model.TypeFiles, model.Options{Compress: false})
	require.NoError(t, err)
	tree := backuptest.ReadTree(t, m.Dir(raw.ID))
	assert.Equal(t, backuptest.Files["storage/uploads/complaints/2/photo.jpg"], tree["uploads/complaints/2/photo.jpg"])
	assert.Contains(t, tree, "logs/app-new.log")
	assert.NotContains(t, tree, "logs/app-old.log")
	assert.Len(t, raw.Artifacts, 4)
}

func TestManager_CreateConfigIsNeverArchived(t *testing.T) {
	app := backuptest.NewApp(t)
	m := app.NewManager(t, backuptest.NewStore(t))

	rec, err := m.Create(context.Background(), model.TypeConfig, model.Options{Compress: true})
	require.NoError(t, err)

	dir := m.Dir(rec.ID)
	assert.Equal(t, []string{
		filepath.Join(dir, "config", "config", "app.php"),
		filepath.Join(dir, "config", ".env"),
		filepath.Join(dir, "config", "composer.json"),
	}, rec.Files(), "allow-list order, absent files skipped")

	for _, f := range rec.Files() {
		rel, ok := backup.ConfigRelPath(dir, f)
		require.True(t, ok)
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.Equal(t, backuptest.Files[rel], string(data))
	}
}

func TestManager_CreateFull(t *testing.T) {
	app := backuptest.NewApp(t)
	m := app.NewManager(t, backuptest.NewStore(t), backup.WithClock(backuptest.NewClock().Now))
	ctx := context.Background()

	rec, err := m.Create(ctx, model.TypeFull, model.Options{Compress: true})
	require.NoError(t, err)
	require.Len(t, rec.Artifacts, 1)
	assert.Equal(t, filepath.Join(m.Dir(rec.ID), "full.tar.gz"), rec.Artifacts[0].Path)

	entries, err := os.ReadDir(m.Dir(rec.ID))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging area is removed")

	out := t.TempDir()
	require.NoError(t, archiver.NewTarGz(zerolog.Nop()).Extract(ctx, rec.Artifacts[0].Path, out))
	tree := backuptest.ReadTree(t, out)
	assert.Contains(t, tree, "database.sql")
	assert.Contains(t, tree["database.sql"], "Night shift staffing")
	assert.Equal(t, backuptest.Files[".env"], tree["config/.env"])
	assert.Equal(t, backuptest.Files["storage/uploads/readme.txt"], tree["uploads/readme.txt"])
	assert.Contains(t, tree, "logs/app-new.log")

	raw, err := m.Create(ctx, model.TypeFull, model.Options{})
	require.NoError(t, err)
	tree = backuptest.ReadTree(t, m.Dir(raw.ID))
	for _, name := range []string{"database.sql", "uploads/readme.txt", "config/.env", "config/config/app.php"} {
		assert.Contains(t, tree, name)
	}
	assert.Equal(t, filepath.Join(m.Dir(raw.ID), "database.sql"), raw.Files()[0])
}

func TestManager_CreateFailure(t *testing.T) {
	app := backuptest.NewApp(t)
	store := backuptest.NewStore(t)
	notifier := &mockNotifier{}
	notifier.On("NotifyFailure", mock.Anything, mock.Anything, mock.Anything).Once()

	m := backup.NewManager(backup.ManagerParams{
		Root:     app.BackupRoot,
		Store:    store,
		Archiver: archiver.NewMemory(),
		Connect: func(ctx context.Context) (backup.LiveDB, error) {
			return nil, fmt.Errorf("dial: %w", faults.ErrConnection)
		},
		Sources: app.Sources,
		Logger:  zerolog.New(zerolog.NewTestWriter(t)),
	}, backup.WithNotifier(notifier))
	ctx := context.Background()

	rec, err := m.Create(ctx, model.TypeDatabase, model.Options{NotifyOnFailure: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrConnection)
	require.NotNil(t, rec)

	stored, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "connection failure")
	assert.NotNil(t, stored.CompletedAt)

	available, err := m.ListAvailable(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, available)
	all, err := m.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	notifier.AssertExpectations(t)

	// No notification unless asked for.
	_, err = m.Create(ctx, model.TypeDatabase, model.Options{})
	require.Error(t, err)
	notifier.AssertNumberOfCalls(t, "NotifyFailure", 1)
}

func TestManager_CreateLocked(t *testing.T) {
	app := backuptest.NewApp(t)
	m := app.NewManager(t, backuptest.NewStore(t))
	ctx := context.Background()

	_, lease, err := app.Locker().Acquire(ctx, "files")
	require.NoError(t, err)
	defer lease.Release()

	rec, err := m.Create(ctx, model.TypeFull, model.Options{})
	assert.ErrorIs(t, err, faults.ErrLocked)
	assert.Equal(t, model.StatusFailed, rec.Status)

	// Other resources are free.
	_, err = m.Create(ctx, model.TypeConfig, model.Options{})
	assert.NoError(t, err)
}

func TestManager_CreateUnknownType(t *testing.T) {
	app := backuptest.NewApp(t)
	m := app.NewManager(t, backuptest.NewStore(t))
	_, err := m.Create(context.Background(), "incremental", model.Options{})
	assert.Error(t, err)
}

func TestManager_CreateMissingUploads(t *testing.T) {
	app := backuptest.NewApp(t)
	require.NoError(t, os.RemoveAll(app.Sources.UploadsDir))
	m := app.NewManager(t, backuptest.NewStore(t))

	_, err := m.Create(context.Background(), model.TypeFiles, model.Options{Compress: true})
	assert.ErrorIs(t, err, faults.ErrMissingArtifact)
}

func TestManager_CreateFilesFromEmptyTree(t *testing.T) {
	app := backuptest.NewApp(t)
	require.NoError(t, os.RemoveAll(app.Sources.UploadsDir))
	require.NoError(t, os.MkdirAll(app.Sources.UploadsDir, 0o750))
	require.NoError(t, os.RemoveAll(app.Sources.LogsDir))
	store := backuptest.NewStore(t)
	m := app.NewManager(t, store)

	rec, err := m.Create(context.Background(), model.TypeFiles, model.Options{})
	assert.ErrorIs(t, err, faults.ErrMissingArtifact)
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusFailed, rec.Status)

	available, err := m.ListAvailable(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, available)
}

func TestManager_Delete(t *testing.T) {
	app := backuptest.NewApp(t)
	m := app.NewManager(t, backuptest.NewStore(t))
	ctx := context.Background()

	rec, err := m.Create(ctx, model.TypeConfig, model.Options{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(rec.Files()[1]))

	err = m.Delete(ctx, rec.ID, false)
	assert.ErrorIs(t, err, faults.ErrMissingArtifact)
	assert.ErrorContains(t, err, rec.Files()[1])
	_, err = m.Get(ctx, rec.ID)
	require.NoError(t, err, "record survives a refused delete")

	require.NoError(t, m.Delete(ctx, rec.ID, true))
	assert.NoDirExists(t, m.Dir(rec.ID))
	_, err = m.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, faults.ErrNotFound)

	assert.ErrorIs(t, m.Delete(ctx, "missing", false), faults.ErrNotFound)
}

func TestManager_DeleteRunning(t *testing.T) {
	app := backuptest.NewApp(t)
	store := backuptest.NewStore(t)
	m := app.NewManager(t, store)
	ctx := context.Background()

	require.NoError(t, store.CreateRecord(ctx, &model.Record{ID: "r1", Type: model.TypeFiles, Status: model.StatusRunning, StartedAt: time.Now()}))
	assert.ErrorIs(t, m.Delete(ctx, "r1", false), faults.ErrInvalidState)
}

func TestManager_Stale(t *testing.T) {
	app := backuptest.NewApp(t)
	store := backuptest.NewStore(t)
	clock := backuptest.NewClock()
	m := app.NewManager(t, store, backup.WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.CreateRecord(ctx, &model.Record{ID: "old", Type: model.TypeFiles, Status: model.StatusRunning, StartedAt: backuptest.Epoch.Add(-12 * time.Hour)}))
	require.NoError(t, store.CreateRecord(ctx, &model.Record{ID: "new", Type: model.TypeFiles, Status: model.StatusRunning, StartedAt: backuptest.Epoch}))

	stale, err := m.Stale(ctx, 6*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
}

func TestManager_DiskUsage(t *testing.T) {
	app := backuptest.NewApp(t)
	m := app.NewManager(t, backuptest.NewStore(t))

	usage, err := m.DiskUsage()
	require.NoError(t, err)
	assert.Zero(t, usage)

	rec, err := m.Create(context.Background(), model.TypeConfig, model.Options{})
	require.NoError(t, err)
	usage, err = m.DiskUsage()
	require.NoError(t, err)
	assert.Equal(t, rec.SizeBytes, usage)
}
