package database_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stupid-simple/intake-backup/database"
	"github.com/stupid-simple/intake-backup/faults"
	"github.com/stupid-simple/intake-backup/model"
)

// Helper to set up an in-memory SQLite database
func setupTestDB(t *testing.T) *database.Database {
	db, err := database.Open(":memory:", zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newRecord(id string, typ model.BackupType, status model.Status, started time.Time) *model.Record {
	return &model.Record{
		ID:        id,
		Type:      typ,
		Status:    status,
		StartedAt: started,
		Options:   model.Options{Compress: true},
	}
}

func TestDatabase_RecordLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)

	r := newRecord("b1", model.TypeFull, model.StatusRunning, started)
	require.NoError(t, db.CreateRecord(ctx, r))

	done := started.Add(time.Minute)
	r.Status = model.StatusCompleted
	r.CompletedAt = &done
	r.SizeBytes = 300
	r.Options = r.Options.WithFlag(model.FlagSafetyBackup, true)
	r.Artifacts = []model.Artifact{
		{Path: "/backups/b1/full.tar.gz", Size: 200, Hash: 42},
		{Path: "/backups/b1/config/.env", Size: 100, Hash: 7},
	}
	require.NoError(t, db.SaveRecord(ctx, r))

	got, err := db.GetRecord(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, int64(300), got.SizeBytes)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))
	assert.True(t, got.IsSafetyBackup())
	assert.Equal(t, []string{"/backups/b1/full.tar.gz", "/backups/b1/config/.env"}, got.Files())

	// Saving again replaces the artifact list.
	r.Artifacts = r.Artifacts[:1]
	require.NoError(t, db.SaveRecord(ctx, r))
	got, err = db.GetRecord(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, got.Artifacts, 1)

	require.NoError(t, db.DeleteRecord(ctx, "b1"))
	_, err = db.GetRecord(ctx, "b1")
	assert.ErrorIs(t, err, faults.ErrNotFound)
	assert.ErrorIs(t, db.DeleteRecord(ctx, "b1"), faults.ErrNotFound)
}

func TestDatabase_FindRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		typ := model.TypeDatabase
		if i%2 == 1 {
			typ = model.TypeFiles
		}
		status := model.StatusCompleted
		if i == 4 {
			status = model.StatusFailed
		}
		require.NoError(t, db.CreateRecord(ctx, newRecord(fmt.Sprintf("r%d", i), typ, status, base.Add(time.Duration(i)*time.Hour))))
	}

	all, err := db.FindRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "r4", all[0].ID, "newest first by default")

	oldest, err := db.FindRecords(ctx, database.WithOldestFirst(), database.WithLimit(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"r0", "r1"}, ids(oldest))

	dbOnly, err := db.FindRecords(ctx, database.WithTypes(model.TypeDatabase), database.WithStatuses(model.StatusCompleted))
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r0"}, ids(dbOnly))

	before, err := db.FindRecords(ctx, database.WithStartedBefore(base.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r0"}, ids(before))

	counts, err := db.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[model.StatusCompleted])
	assert.Equal(t, int64(1), counts[model.StatusFailed])
}

func TestDatabase_ClaimScheduleRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	next := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	entry := &model.ScheduleEntry{
		ID:        "s1",
		Type:      model.TypeDatabase,
		Frequency: model.Daily,
		Enabled:   true,
		Anchor:    next,
		NextRun:   next,
	}
	require.NoError(t, db.CreateSchedule(ctx, entry))

	due, err := db.DueSchedules(ctx, next.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = db.DueSchedules(ctx, next)
	require.NoError(t, err)
	require.Len(t, due, 1)

	ranAt := next.Add(time.Minute)
	claimed, err := db.ClaimScheduleRun(ctx, "s1", due[0].NextRun, ranAt, next.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.True(t, claimed)

	// The slot was consumed, a second claim with the stale value loses.
	claimed, err = db.ClaimScheduleRun(ctx, "s1", due[0].NextRun, ranAt, next.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := db.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.True(t, ranAt.Equal(*got.LastRun))
	assert.True(t, next.AddDate(0, 0, 1).Equal(got.NextRun))
}

func TestDatabase_ScheduleEnableDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	next := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, db.CreateSchedule(ctx, &model.ScheduleEntry{ID: "s1", Type: model.TypeFiles, Frequency: model.Weekly, Enabled: true, NextRun: next}))
	require.NoError(t, db.CreateSchedule(ctx, &model.ScheduleEntry{ID: "s2", Type: model.TypeConfig, Frequency: model.Daily, Enabled: true, NextRun: next.Add(time.Hour)}))

	require.NoError(t, db.SetScheduleEnabled(ctx, "s1", false, time.Time{}))
	enabled, err := db.ListSchedules(ctx, true)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "s2", enabled[0].ID)

	all, err := db.ListSchedules(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, db.SetScheduleEnabled(ctx, "missing", true, time.Time{}), faults.ErrNotFound)
	require.NoError(t, db.DeleteSchedule(ctx, "s1"))
	assert.ErrorIs(t, db.DeleteSchedule(ctx, "s1"), faults.ErrNotFound)
	_, err = db.GetSchedule(ctx, "s1")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestDatabase_AuditEvents(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, sev := range []model.Severity{model.SeverityInfo, model.SeverityCritical} {
		require.NoError(t, db.AddAuditEvent(ctx, &model.AuditEvent{
			ID:       fmt.Sprintf("e%d", i),
			At:       base.Add(time.Duration(i) * time.Hour),
			Severity: sev,
			Action:   "backup_restored",
			Details:  map[string]string{"backup_id": "b1"},
		}))
	}

	events, err := db.ListAuditEvents(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.SeverityCritical, events[0].Severity)
	assert.Equal(t, "b1", events[0].Details["backup_id"])

	events, err = db.ListAuditEvents(ctx, base.Add(30*time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func ids(records []model.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
