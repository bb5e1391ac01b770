package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramidis/strategem/internal/modules/monitor"
	"github.com/avramidis/strategem/internal/modules/quotes"
	"github.com/avramidis/strategem/internal/report"
	"github.com/avramidis/strategem/internal/utils"
)

// DailyRunner orchestrates the nightly pass: refresh quotes first, then
// advance every active monitor to the target date. Exactly one instance runs
// at a time per installation, enforced by the daily-update lock.
type DailyRunner struct {
	locks    *LockManager
	quotes   *quotes.UpdateService
	monitors *monitor.Service
	notify   *report.NotifyTarget
	log      zerolog.Logger
}

// NewDailyRunner creates the daily-update orchestrator. notify may be nil
// when no mail routing is configured.
func NewDailyRunner(locks *LockManager, q *quotes.UpdateService, m *monitor.Service,
	notify *report.NotifyTarget, log zerolog.Logger) *DailyRunner {
	return &DailyRunner{
		locks:    locks,
		quotes:   q,
		monitors: m,
		notify:   notify,
		log:      log.With().Str("component", "daily_update").Logger(),
	}
}

// Run executes one daily update for the given date. Quote-phase and
// per-monitor failures are counted in the report rather than aborting; the
// error return covers the lock and listing faults only. A Concurrent error
// means another daily update holds the lock. skipQuotes and skipMonitors
// drop the corresponding phase.
func (r *DailyRunner) Run(ctx context.Context, date string, skipQuotes, skipMonitors bool) (*report.DailyReport, error) {
	release, err := r.locks.Acquire("daily-update")
	if err != nil {
		return nil, err
	}
	defer release()
	defer utils.NewTimer("daily_update", r.log).Stop()

	rep := &report.DailyReport{
		Date:        date,
		GeneratedAt: time.Now().UTC(),
		Notify:      r.notify,
	}

	if !skipQuotes {
		stats, err := r.quotes.UpdateAll(ctx, false)
		if err != nil {
			// Monitors still advance on whatever quotes already exist; the
			// availability guard skips monitors the update left behind.
			r.log.Error().Err(err).Msg("Quote phase failed, advancing monitors on stored data")
		}
		rep.Quotes = stats
	}

	if !skipMonitors {
		advanced, skipped, failed, err := r.monitors.AdvanceAll(ctx, date)
		rep.Monitors = report.MonitorSummary{Advanced: advanced, Skipped: skipped, Failed: failed}
		if err != nil {
			return rep, err
		}
		r.log.Info().Str("date", date).Int("advanced", advanced).Int("skipped", skipped).
			Int("failed", failed).Msg("Daily update complete")
		return rep, nil
	}

	r.log.Info().Str("date", date).Msg("Daily update complete")
	return rep, nil
}
