package sqldump

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/stupid-simple/intake-backup/faults"
	"gorm.io/gorm"
)

// Replay executes every statement of the payload inside one transaction.
// If statement N of M fails the transaction is rolled back and the returned
// error wraps faults.ErrPartialExecution.
func (d *DB) Replay(ctx context.Context, r io.Reader) (int, error) {
	statements, err := Split(r)
	if err != nil {
		return 0, fmt.Errorf("split payload: %w", err)
	}

	start := time.Now()
	d.logger.Info().Int("statements", len(statements)).Msg("start replaying statements")

	total := len(statements)
	err = d.cli.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, stmt := range statements {
			if ctx.Err() != nil {
				return fmt.Errorf("statement %d of %d: %w: %w", i+1, total, faults.ErrPartialExecution, ctx.Err())
			}
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("statement %d of %d: %w: %w", i+1, total, faults.ErrPartialExecution, err)
			}
		}
		return nil
	})
	if err != nil {
		d.logger.Error().Err(err).Msg("replay rolled back")
		return 0, err
	}

	d.logger.Info().
		Int("statements", total).
		Float64("elapsed", time.Since(start).Seconds()).
		Msg("done replaying statements")
	return total, nil
}
