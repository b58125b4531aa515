package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/stupid-simple/intake-backup/faults"
	"github.com/stupid-simple/intake-backup/model"
	"gorm.io/gorm"
)

func (d *Database) CreateRecord(ctx context.Context, r *model.Record) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	d.Logger.Debug().Object("record", r).Msg("create backup record")
	if err := d.Cli.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("create backup record %s: %w", r.ID, err)
	}
	return nil
}

// SaveRecord updates the record row and replaces its artifacts.
func (d *Database) SaveRecord(ctx context.Context, r *model.Record) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	d.Logger.Debug().Object("record", r).Msg("save backup record")
	return d.Cli.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Artifacts").Save(r).Error; err != nil {
			return fmt.Errorf("save backup record %s: %w", r.ID, err)
		}
		if err := tx.Where("backup_id = ?", r.ID).Delete(&model.Artifact{}).Error; err != nil {
			return fmt.Errorf("clear artifacts of %s: %w", r.ID, err)
		}
		if len(r.Artifacts) == 0 {
			return nil
		}
		for i := range r.Artifacts {
			r.Artifacts[i].BackupID = r.ID
			r.Artifacts[i].Seq = i
		}
		if err := tx.Create(&r.Artifacts).Error; err != nil {
			return fmt.Errorf("save artifacts of %s: %w", r.ID, err)
		}
		return nil
	})
}

func (d *Database) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	r := &model.Record{}
	err := d.Cli.WithContext(ctx).
		Preload("Artifacts", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		Where("id = ?", id).
		First(r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("backup %s: %w", id, faults.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", id, err)
	}
	return r, nil
}

func (d *Database) FindRecords(ctx context.Context, opts ...FindRecordsOptions) ([]model.Record, error) {
	o := findRecordsOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	query := d.Cli.WithContext(ctx).Model(&model.Record{})
	if len(o.types) > 0 {
		query = query.Where("type IN ?", o.types)
	}
	if len(o.statuses) > 0 {
		query = query.Where("status IN ?", o.statuses)
	}
	if !o.startedBefore.IsZero() {
		query = query.Where("started_at < ?", o.startedBefore)
	}
	if o.oldestFirst {
		query = query.Order("started_at ASC").Order("id ASC")
	} else {
		query = query.Order("started_at DESC").Order("id DESC")
	}
	if o.limit > 0 {
		query = query.Limit(o.limit)
	}
	if o.withArtifacts {
		query = query.Preload("Artifacts", func(db *gorm.DB) *gorm.DB { return db.Order("seq") })
	}

	d.Lock.Lock()
	defer d.Lock.Unlock()

	records := []model.Record{}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("find backup records: %w", err)
	}
	return records, nil
}

func (d *Database) DeleteRecord(ctx context.Context, id string) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	d.Logger.Debug().Str("id", id).Msg("delete backup record")
	return d.Cli.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("backup_id = ?", id).Delete(&model.Artifact{}).Error; err != nil {
			return fmt.Errorf("delete artifacts of %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&model.Record{})
		if res.Error != nil {
			return fmt.Errorf("delete backup record %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("backup %s: %w", id, faults.ErrNotFound)
		}
		return nil
	})
}

// CountRecords returns the number of records per status.
func (d *Database) CountRecords(ctx context.Context) (map[model.Status]int64, error) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	type row struct {
		Status model.Status
		Count  int64
	}
	rows := []row{}
	err := d.Cli.WithContext(ctx).Model(&model.Record{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count backup records: %w", err)
	}
	counts := make(map[model.Status]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
