// Package sqldump dumps the live application database to a replayable SQL
// payload and replays such payloads transactionally.
package sqldump

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/database"
	"github.com/stupid-simple/intake-backup/faults"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	// DriverSQLite is the pure Go driver.
	DriverSQLite = "sqlite"
	// DriverSQLite3 is the cgo driver.
	DriverSQLite3 = "sqlite3"
)

type DB struct {
	cli    *gorm.DB
	logger zerolog.Logger
}

// Open connects to the live database. Failure to reach it is reported as
// faults.ErrConnection.
func Open(ctx context.Context, driver, dsn string, logger zerolog.Logger) (*DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverSQLite3:
		dialector = cgosqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	cli, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 database.NewLogger(logger),
		SkipDefaultTransaction: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", dsn, faults.ErrConnection, err)
	}

	db := New(cli, logger)
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New wraps an existing connection.
func New(cli *gorm.DB, logger zerolog.Logger) *DB {
	return &DB{cli: cli, logger: logger}
}

func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.cli.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", faults.ErrConnection, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", faults.ErrConnection, err)
	}
	// A ping does not touch the file, a schema read does.
	var n int64
	if err := d.cli.WithContext(ctx).Raw("SELECT COUNT(*) FROM sqlite_master").Scan(&n).Error; err != nil {
		return fmt.Errorf("%w: %w", faults.ErrConnection, err)
	}
	return nil
}

func (d *DB) Close() error {
	sqlDB, err := d.cli.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Cli exposes the underlying connection.
func (d *DB) Cli() *gorm.DB {
	return d.cli
}
