// Package audit records destructive operations durably and in the log.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/model"
)

const (
	ActionBackupRestored = "backup_restored"
	ActionRestoreFailed  = "restore_failed"
	ActionBackupDeleted  = "backup_deleted"
	ActionCleanup        = "backups_cleaned"
)

type Store interface {
	AddAuditEvent(ctx context.Context, e *model.AuditEvent) error
	ListAuditEvents(ctx context.Context, since time.Time, limit int) ([]model.AuditEvent, error)
}

type Event struct {
	Action   string
	Severity model.Severity
	Subject  string
	Details  map[string]string
}

type Sink struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func New(store Store, logger zerolog.Logger) *Sink {
	return &Sink{store: store, logger: logger, now: time.Now}
}

// Record logs the event and stores it. The log line is written even when
// the store fails.
func (s *Sink) Record(ctx context.Context, e Event) (*model.AuditEvent, error) {
	if e.Severity == "" {
		e.Severity = model.SeverityInfo
	}
	event := &model.AuditEvent{
		ID:       uuid.NewString(),
		At:       s.now().UTC(),
		Severity: e.Severity,
		Action:   e.Action,
		Subject:  e.Subject,
		Details:  e.Details,
	}

	line := s.logger.WithLevel(logLevel(e.Severity)).
		Bool("audit", true).
		Str("severity", string(e.Severity)).
		Str("action", e.Action).
		Str("subject", e.Subject)
	for k, v := range e.Details {
		line = line.Str(k, v)
	}
	line.Msg("audit event")

	if err := s.store.AddAuditEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("record audit event: %w", err)
	}
	return event, nil
}

// List returns the newest events first.
func (s *Sink) List(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	return s.store.ListAuditEvents(ctx, time.Time{}, limit)
}

func logLevel(severity model.Severity) zerolog.Level {
	switch severity {
	case model.SeverityCritical:
		return zerolog.ErrorLevel
	case model.SeverityWarning:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
