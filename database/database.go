// Package database persists backup records, schedule entries and audit
// events in a SQLite metadata store.
package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/model"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type Database struct {
	Lock   sync.Mutex
	Cli    *gorm.DB
	Logger zerolog.Logger
}

// Open opens the metadata store at path and migrates its tables.
// Use ":memory:" for a throwaway store.
func Open(path string, logger zerolog.Logger) (*Database, error) {
	cli, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: NewLogger(logger),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open metadata store %s: %w", path, err)
	}

	sqlDB, err := cli.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer, and every ":memory:" connection is a
	// distinct database.
	sqlDB.SetMaxOpenConns(1)

	err = cli.AutoMigrate(&model.Record{}, &model.Artifact{}, &model.ScheduleEntry{}, &model.AuditEvent{})
	if err != nil {
		return nil, fmt.Errorf("migrate metadata store: %w", err)
	}

	return &Database{Cli: cli, Logger: logger}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.Cli.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.Cli.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
