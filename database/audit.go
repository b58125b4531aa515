package database

import (
	"context"
	"fmt"
	"time"

	"github.com/stupid-simple/intake-backup/model"
)

func (d *Database) AddAuditEvent(ctx context.Context, e *model.AuditEvent) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	if err := d.Cli.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("add audit event %s: %w", e.Action, err)
	}
	return nil
}

// ListAuditEvents returns the newest events first. since and limit are
// ignored when zero.
func (d *Database) ListAuditEvents(ctx context.Context, since time.Time, limit int) ([]model.AuditEvent, error) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	query := d.Cli.WithContext(ctx).Order("at DESC").Order("id DESC")
	if !since.IsZero() {
		query = query.Where("at >= ?", since)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	events := []model.AuditEvent{}
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}
