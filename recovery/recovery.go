// Package recovery checks backups against the disk and restores them into
// the live application.
package recovery

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/archiver"
	"github.com/stupid-simple/intake-backup/backup"
	"github.com/stupid-simple/intake-backup/fileutils"
	"github.com/stupid-simple/intake-backup/lock"
	"github.com/stupid-simple/intake-backup/model"
)

// Backups is the part of the backup manager a restore depends on.
type Backups interface {
	Get(ctx context.Context, id string) (*model.Record, error)
	Create(ctx context.Context, typ model.BackupType, opts model.Options) (*model.Record, error)
	Dir(id string) string
	Sources() backup.Sources
	Archiver() archiver.Archiver
	Connect(ctx context.Context) (backup.LiveDB, error)
	Locker() *lock.Locker
}

type RecoveryParams struct {
	Backups Backups
	Auditor backup.Auditor
	Logger  zerolog.Logger
}

type Manager struct {
	backups Backups
	auditor backup.Auditor
	logger  zerolog.Logger
	now     func() time.Time
	moveDir func(src, dst string) error
}

type Option func(m *Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(params RecoveryParams, opts ...Option) *Manager {
	m := &Manager{
		backups: params.Backups,
		auditor: params.Auditor,
		logger:  params.Logger,
		now:     time.Now,
		moveDir: fileutils.MoveDir,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}
