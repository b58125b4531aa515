// Package scheduler keeps the backup schedule and runs the entries that are
// due.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/model"
)

// Creator runs a backup.
type Creator interface {
	Create(ctx context.Context, typ model.BackupType, opts model.Options) (*model.Record, error)
}

// Store is the part of the metadata store owned by the scheduler.
type Store interface {
	CreateSchedule(ctx context.Context, s *model.ScheduleEntry) error
	GetSchedule(ctx context.Context, id string) (*model.ScheduleEntry, error)
	ListSchedules(ctx context.Context, onlyEnabled bool) ([]model.ScheduleEntry, error)
	DueSchedules(ctx context.Context, now time.Time) ([]model.ScheduleEntry, error)
	DeleteSchedule(ctx context.Context, id string) error
	SetScheduleEnabled(ctx context.Context, id string, enabled bool, nextRun time.Time) error
	UpdateSchedule(ctx context.Context, s *model.ScheduleEntry) error
	ClaimScheduleRun(ctx context.Context, id string, expected, ranAt, next time.Time) (bool, error)
}

type SchedulerParams struct {
	Store   Store
	Creator Creator
	Logger  zerolog.Logger
}

type Scheduler struct {
	store   Store
	creator Creator
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

type Option func(s *Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Scheduler) {
		s.newID = newID
	}
}

func NewScheduler(params SchedulerParams, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   params.Store,
		creator: params.Creator,
		logger:  params.Logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add schedules a backup starting one period from now.
func (s *Scheduler) Add(ctx context.Context, typ model.BackupType, freq model.Frequency, opts model.Options) (string, error) {
	return s.AddAt(ctx, typ, freq, s.now(), opts)
}

// AddAt schedules a backup anchored at the given time. A future anchor is
// the first run.
func (s *Scheduler) AddAt(ctx context.Context, typ model.BackupType, freq model.Frequency, anchor time.Time, opts model.Options) (string, error) {
	if _, err := model.ParseBackupType(string(typ)); err != nil {
		return "", err
	}
	if _, err := model.ParseFrequency(string(freq)); err != nil {
		return "", err
	}

	now := s.now().UTC()
	anchor = anchor.UTC()
	next := anchor
	if !anchor.After(now) {
		next = NextRun(freq, anchor, nil, now)
	}

	entry := &model.ScheduleEntry{
		ID:        s.newID(),
		Type:      typ,
		Frequency: freq,
		Enabled:   true,
		Anchor:    anchor,
		NextRun:   next,
		CreatedAt: now,
		Options:   opts,
	}
	if err := s.store.CreateSchedule(ctx, entry); err != nil {
		return "", err
	}
	s.logger.Info().Object("schedule", entry).Msg("schedule added")
	return entry.ID, nil
}

// Remove deletes an entry. Unknown ids fail with faults.ErrNotFound.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("schedule", id).Msg("schedule removed")
	return nil
}

// Enable toggles an entry. Enabling recomputes the next run so that an entry
// disabled for a while does not fire immediately.
func (s *Scheduler) Enable(ctx context.Context, id string, enabled bool) error {
	entry, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	var next time.Time
	if enabled {
		now := s.now().UTC()
		if entry.NextRun.After(now) {
			next = entry.NextRun
		} else {
			next = NextRun(entry.Frequency, entry.Anchor, entry.LastRun, now)
		}
	}
	if err := s.store.SetScheduleEnabled(ctx, id, enabled, next); err != nil {
		return err
	}
	s.logger.Info().Str("schedule", id).Bool("enabled", enabled).Msg("schedule toggled")
	return nil
}

// Update changes the frequency and options of an entry and recomputes its
// next run. A future anchor that has not run yet stays the next run.
func (s *Scheduler) Update(ctx context.Context, id string, freq model.Frequency, opts *model.Options) (*model.ScheduleEntry, error) {
	if _, err := model.ParseFrequency(string(freq)); err != nil {
		return nil, err
	}
	entry, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	entry.Frequency = freq
	if opts != nil {
		entry.Options = *opts
	}
	now := s.now().UTC()
	if entry.LastRun == nil && entry.Anchor.After(now) {
		entry.NextRun = entry.Anchor
	} else {
		entry.NextRun = NextRun(freq, entry.Anchor, entry.LastRun, now)
	}
	if err := s.store.UpdateSchedule(ctx, entry); err != nil {
		return nil, err
	}
	s.logger.Info().Object("schedule", entry).Msg("schedule updated")
	return entry, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (*model.ScheduleEntry, error) {
	return s.store.GetSchedule(ctx, id)
}

func (s *Scheduler) List(ctx context.Context) ([]model.ScheduleEntry, error) {
	return s.store.ListSchedules(ctx, false)
}

// Upcoming returns up to limit enabled entries, soonest first.
func (s *Scheduler) Upcoming(ctx context.Context, limit int) ([]model.ScheduleEntry, error) {
	entries, err := s.store.ListSchedules(ctx, true)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// RunStats counts the backups started by one RunDue pass.
type RunStats struct {
	Executed int
	Failed   int
}

// RunDue runs every enabled entry whose next run is at or before now. Each
// slot is claimed before its backup runs, so a failed backup still consumes
// it and a repeated call does not run it again. Backup failures are logged
// and counted, they do not stop the pass.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) (RunStats, error) {
	stats := RunStats{}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	now = now.UTC()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("find due schedules: %w", err)
	}
	if len(due) == 0 {
		s.logger.Debug().Time("now", now).Msg("no schedules due")
		return stats, nil
	}

	startTime := time.Now()
	s.logger.Info().Int("due", len(due)).Msg("running due schedules")

	for i := range due {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		entry := &due[i]
		logger := s.logger.With().Object("schedule", entry).Logger()

		next := NextRun(entry.Frequency, entry.Anchor, &now, now)
		claimed, err := s.store.ClaimScheduleRun(ctx, entry.ID, entry.NextRun, now, next)
		if err != nil {
			logger.Error().Err(err).Msg("could not claim schedule slot")
			continue
		}
		if !claimed {
			logger.Info().Msg("schedule slot already claimed, skipping")
			continue
		}

		stats.Executed++
		rec, err := s.creator.Create(ctx, entry.Type, entry.Options)
		if err != nil {
			stats.Failed++
			logger.Error().Err(err).Time("next_run", next).Msg("scheduled backup failed")
			continue
		}
		logger.Info().Str("backup", rec.ID).Time("next_run", next).Msg("scheduled backup done")
	}

	s.logger.Info().
		Int("executed", stats.Executed).
		Int("failed", stats.Failed).
		Float64("seconds", time.Since(startTime).Seconds()).
		Msg("done running due schedules")
	return stats, nil
}

// SeedEntry describes a schedule created by Seed.
type SeedEntry struct {
	Type      model.BackupType
	Frequency model.Frequency
	Enabled   bool
	Options   model.Options
}

// Seed adds the entries when no schedule exists yet and returns how many
// were added.
func (s *Scheduler) Seed(ctx context.Context, entries []SeedEntry) (int, error) {
	existing, err := s.store.ListSchedules(ctx, false)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		s.logger.Info().Int("existing", len(existing)).Msg("schedules already present, not seeding")
		return 0, nil
	}
	for i, e := range entries {
		id, err := s.Add(ctx, e.Type, e.Frequency, e.Options)
		if err != nil {
			return i, err
		}
		if !e.Enabled {
			if err := s.Enable(ctx, id, false); err != nil {
				return i + 1, err
			}
		}
	}
	return len(entries), nil
}
