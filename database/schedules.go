package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stupid-simple/intake-backup/faults"
	"github.com/stupid-simple/intake-backup/model"
	"gorm.io/gorm"
)

func (d *Database) CreateSchedule(ctx context.Context, s *model.ScheduleEntry) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	d.Logger.Debug().Object("schedule", s).Msg("create schedule entry")
	if err := d.Cli.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("create schedule %s: %w", s.ID, err)
	}
	return nil
}

func (d *Database) GetSchedule(ctx context.Context, id string) (*model.ScheduleEntry, error) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	s := &model.ScheduleEntry{}
	err := d.Cli.WithContext(ctx).Where("id = ?", id).First(s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("schedule %s: %w", id, faults.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return s, nil
}

// ListSchedules returns entries ordered by next run. If onlyEnabled is set,
// disabled entries are left out.
func (d *Database) ListSchedules(ctx context.Context, onlyEnabled bool) ([]model.ScheduleEntry, error) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	query := d.Cli.WithContext(ctx).Order("next_run ASC").Order("id ASC")
	if onlyEnabled {
		query = query.Where("enabled = ?", true)
	}
	entries := []model.ScheduleEntry{}
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return entries, nil
}

// DueSchedules returns enabled entries whose next run is at or before now.
func (d *Database) DueSchedules(ctx context.Context, now time.Time) ([]model.ScheduleEntry, error) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	entries := []model.ScheduleEntry{}
	err := d.Cli.WithContext(ctx).
		Where("enabled = ? AND next_run <= ?", true, now).
		Order("next_run ASC").Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("find due schedules: %w", err)
	}
	return entries, nil
}

func (d *Database) DeleteSchedule(ctx context.Context, id string) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	res := d.Cli.WithContext(ctx).Where("id = ?", id).Delete(&model.ScheduleEntry{})
	if res.Error != nil {
		return fmt.Errorf("delete schedule %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("schedule %s: %w", id, faults.ErrNotFound)
	}
	return nil
}

// SetScheduleEnabled toggles an entry. nextRun replaces the stored next run
// when it is not zero.
func (d *Database) SetScheduleEnabled(ctx context.Context, id string, enabled bool, nextRun time.Time) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	updates := map[string]any{"enabled": enabled}
	if !nextRun.IsZero() {
		updates["next_run"] = nextRun
	}
	res := d.Cli.WithContext(ctx).Model(&model.ScheduleEntry{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update schedule %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("schedule %s: %w", id, faults.ErrNotFound)
	}
	return nil
}

// UpdateSchedule saves every field of the entry.
func (d *Database) UpdateSchedule(ctx context.Context, s *model.ScheduleEntry) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	res := d.Cli.WithContext(ctx).Model(s).Select("*").Omit("id", "created_at").Updates(s)
	if res.Error != nil {
		return fmt.Errorf("update schedule %s: %w", s.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("schedule %s: %w", s.ID, faults.ErrNotFound)
	}
	return nil
}

// ClaimScheduleRun records a run of the entry and moves its next run
// forward, but only if the stored next run still equals expected. It returns
// false when another runner claimed the slot first.
func (d *Database) ClaimScheduleRun(ctx context.Context, id string, expected, ranAt, next time.Time) (bool, error) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	res := d.Cli.WithContext(ctx).Model(&model.ScheduleEntry{}).
		Where("id = ? AND next_run = ? AND enabled = ?", id, expected, true).
		Updates(map[string]any{"last_run": ranAt, "next_run": next})
	if res.Error != nil {
		return false, fmt.Errorf("claim schedule %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}
