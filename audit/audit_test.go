package audit_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stupid-simple/intake-backup/audit"
	"github.com/stupid-simple/intake-backup/database"
	"github.com/stupid-simple/intake-backup/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) AddAuditEvent(ctx context.Context, e *model.AuditEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockStore) ListAuditEvents(ctx context.Context, since time.Time, limit int) ([]model.AuditEvent, error) {
	args := m.Called(ctx, since, limit)
	return args.Get(0).([]model.AuditEvent), args.Error(1)
}

func TestSink_RecordAndList(t *testing.T) {
	db, err := database.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	var out bytes.Buffer
	sink := audit.New(db, zerolog.New(&out))
	ctx := context.Background()

	event, err := sink.Record(ctx, audit.Event{
		Action:   audit.ActionBackupRestored,
		Severity: model.SeverityCritical,
		Subject:  "b1",
		Details:  map[string]string{"type": "full"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)

	_, err = sink.Record(ctx, audit.Event{Action: audit.ActionCleanup, Subject: "2 removed"})
	require.NoError(t, err)

	events, err := sink.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	severities := []model.Severity{events[0].Severity, events[1].Severity}
	assert.ElementsMatch(t, []model.Severity{model.SeverityCritical, model.SeverityInfo}, severities)

	assert.Contains(t, out.String(), `"level":"error"`)
	assert.Contains(t, out.String(), `"action":"backup_restored"`)
	assert.Contains(t, out.String(), `"type":"full"`)
}

func TestSink_StoreFailure(t *testing.T) {
	store := &mockStore{}
	store.On("AddAuditEvent", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	var out bytes.Buffer
	sink := audit.New(store, zerolog.New(&out))
	_, err := sink.Record(context.Background(), audit.Event{Action: audit.ActionBackupDeleted, Severity: model.SeverityWarning})
	assert.ErrorContains(t, err, "disk full")
	assert.Contains(t, out.String(), `"level":"warn"`, "log line is written before the store is touched")
	store.AssertExpectations(t)
}
