package backup

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/model"
)

// Notifier is told about failed backups whose options ask for it.
type Notifier interface {
	NotifyFailure(ctx context.Context, rec *model.Record, err error)
}

// LogNotifier reports failures as error log lines, for pickup by whatever
// ships the logs.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) NotifyFailure(_ context.Context, rec *model.Record, err error) {
	n.Logger.Error().
		Bool("notify", true).
		Object("record", rec).
		Err(err).
		Msg("backup failure notification")
}
