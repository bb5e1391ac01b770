package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/jobs"
	"github.com/avramidis/strategem/internal/utils"
)

// DailyUpdateJob triggers the daily-update orchestrator for the current UTC
// date. A concurrent run already holding the lock is skipped, not failed;
// the schedule fires again tomorrow.
type DailyUpdateJob struct {
	runner *jobs.DailyRunner
	log    zerolog.Logger
}

// NewDailyUpdateJob creates the scheduled daily update.
func NewDailyUpdateJob(runner *jobs.DailyRunner, log zerolog.Logger) *DailyUpdateJob {
	return &DailyUpdateJob{
		runner: runner,
		log:    log.With().Str("job", "daily_update").Logger(),
	}
}

// Name returns the job name
func (j *DailyUpdateJob) Name() string {
	return "daily_update"
}

// Run executes one daily update for today.
func (j *DailyUpdateJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	date := utils.Today()
	rep, err := j.runner.Run(ctx, date, false, false)
	if err != nil {
		if domain.IsKind(err, domain.Concurrent) {
			j.log.Warn().Str("date", date).Msg("Daily update already running, skipping")
			return nil
		}
		return err
	}
	j.log.Info().Str("date", date).Int("advanced", rep.Monitors.Advanced).
		Int("skipped", rep.Monitors.Skipped).Int("failed", rep.Monitors.Failed).
		Msg("Scheduled daily update finished")
	return nil
}
