package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type DaemonParams struct {
	Scheduler *Scheduler
	// Spec is a cron spec such as "@every 1m" or "*/5 * * * *".
	Spec   string
	Logger zerolog.Logger
}

// Daemon calls RunDue on a cron schedule for hosts without a system cron.
type Daemon struct {
	ctx       context.Context
	cron      *cron.Cron
	scheduler *Scheduler
	logger    zerolog.Logger

	mu    sync.Mutex
	entry cron.EntryID
	spec  string
}

func NewDaemon(ctx context.Context, params DaemonParams) (*Daemon, error) {
	cl := cronLogger{logger: params.Logger}
	d := &Daemon{
		ctx:       ctx,
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		scheduler: params.Scheduler,
		logger:    params.Logger,
	}
	if err := d.Reschedule(params.Spec); err != nil {
		return nil, err
	}
	return d, nil
}

// Run implements cron.Job.
func (d *Daemon) Run() {
	now := d.scheduler.now()
	if _, err := d.scheduler.RunDue(d.ctx, now); err != nil {
		d.logger.Error().Err(err).Msg("run due schedules failed")
	}
}

// Reschedule replaces the cron spec driving the daemon.
func (d *Daemon) Reschedule(spec string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if spec == d.spec && d.entry != 0 {
		return nil
	}
	entry, err := d.cron.AddJob(spec, d)
	if err != nil {
		return fmt.Errorf("could not schedule due check %q: %w", spec, err)
	}
	if d.entry != 0 {
		d.cron.Remove(d.entry)
	}
	d.entry = entry
	d.spec = spec
	d.logger.Info().Str("spec", spec).Msg("due check scheduled")
	return nil
}

// Start the daemon in its own routine.
func (d *Daemon) Start() {
	d.cron.Start()
}

// Stop the daemon and wait for a running check to finish.
func (d *Daemon) Stop() {
	<-d.cron.Stop().Done()
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
