// Package janitor periodically removes job workspaces left behind by crashed
// workers.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const defaultSchedule = "0 */15 * * * *"

// Sweeper removes workspaces older than maxAge.
type Sweeper interface {
	Sweep(maxAge time.Duration, now time.Time) ([]string, error)
}

type Janitor struct {
	sweeper Sweeper
	maxAge  time.Duration
	cron    *cron.Cron
	logger  zerolog.Logger
	now     func() time.Time
}

// New builds a janitor. maxAge must exceed the longest possible job or a
// running job could lose its workspace.
func New(sweeper Sweeper, maxAge time.Duration, logger zerolog.Logger) *Janitor {
	return &Janitor{
		sweeper: sweeper,
		maxAge:  maxAge,
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
		now:     time.Now,
	}
}

// Start schedules the sweep using a six field cron expression.
func (j *Janitor) Start(schedule string) error {
	if schedule == "" {
		schedule = defaultSchedule
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.RunNow() }); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info().
		Str("schedule", schedule).
		Dur("max_age", j.maxAge).
		Msg("janitor: started")
	return nil
}

// Stop halts scheduling and waits for a running sweep, or until ctx ends.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	j.logger.Info().Msg("janitor: stopped")
}

// RunNow sweeps once and returns the number of removed workspaces.
func (j *Janitor) RunNow() int {
	removed, err := j.sweeper.Sweep(j.maxAge, j.now())
	if err != nil {
		j.logger.Error().Err(err).Int("removed", len(removed)).Msg("janitor: sweep failed")
		return len(removed)
	}
	if len(removed) > 0 {
		j.logger.Info().Strs("job_ids", removed).Msg("janitor: removed stale workspaces")
	}
	return len(removed)
}
