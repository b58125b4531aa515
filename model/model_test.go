package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupid-simple/intake-backup/model"
)

func TestParseBackupType(t *testing.T) {
	for _, s := range []string{"database", "Files", " config ", "FULL"} {
		_, err := model.ParseBackupType(s)
		assert.NoError(t, err, s)
	}
	_, err := model.ParseBackupType("incremental")
	assert.Error(t, err)
}

func TestParseFrequency(t *testing.T) {
	f, err := model.ParseFrequency("Weekly")
	require.NoError(t, err)
	assert.Equal(t, model.Weekly, f)

	_, err = model.ParseFrequency("hourly")
	assert.Error(t, err)
}

func TestBackupType_Resources(t *testing.T) {
	assert.Equal(t, []string{"database"}, model.TypeDatabase.Resources())
	assert.Equal(t, []string{"config", "database", "files"}, model.TypeFull.Resources())
}

func TestOptions_WithFlag(t *testing.T) {
	base := model.Options{Description: "nightly"}
	flagged := base.WithFlag(model.FlagSafetyBackup, true)

	assert.True(t, flagged.Flag(model.FlagSafetyBackup))
	assert.False(t, base.Flag(model.FlagSafetyBackup), "original options must not change")
	assert.Equal(t, "nightly", flagged.Description)
}

func TestRecord_Files(t *testing.T) {
	r := model.Record{Artifacts: []model.Artifact{
		{Seq: 0, Path: "/b/1/database.sql"},
		{Seq: 1, Path: "/b/1/config/.env"},
	}}
	assert.Equal(t, []string{"/b/1/database.sql", "/b/1/config/.env"}, r.Files())
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, model.StatusRunning.Terminal())
	assert.True(t, model.StatusCompleted.Terminal())
	assert.True(t, model.StatusFailed.Terminal())
}
