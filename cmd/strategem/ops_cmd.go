package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/avramidis/strategem/internal/database"
	"github.com/avramidis/strategem/internal/scheduler"
	"github.com/avramidis/strategem/internal/utils"
)

func newDailyUpdateCmd() *cobra.Command {
	var (
		date         string
		skipQuotes   bool
		skipMonitors bool
		format       string
	)
	cmd := &cobra.Command{
		Use:   "daily-update",
		Short: "Run the nightly pass: refresh quotes, then advance all monitors",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if date == "" {
				date = utils.Today()
			}

			rep, err := a.daily.Run(cmd.Context(), date, skipQuotes, skipMonitors)
			if err != nil {
				emitError(format, err)
				return err
			}

			if format == formatJSON {
				if err := printJSON(rep); err != nil {
					return err
				}
			} else {
				fmt.Printf("daily update %s: quotes=%+v monitors advanced=%d skipped=%d failed=%d\n",
					rep.Date, rep.Quotes, rep.Monitors.Advanced, rep.Monitors.Skipped, rep.Monitors.Failed)
			}

			failed := rep.Monitors.Failed
			if rep.Quotes != nil {
				failed += rep.Quotes.Failed
			}
			if failed > 0 {
				return &partialError{msg: fmt.Sprintf("daily update finished with %d failures", failed)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "trading day to process (default today)")
	cmd.Flags().BoolVar(&skipQuotes, "skip-quotes", false, "skip the quote refresh phase")
	cmd.Flags().BoolVar(&skipMonitors, "skip-monitors", false, "skip the monitor advance phase")
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	return cmd
}

func newHealthCheckCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "health-check",
		Short: "Check database integrity and recover stale run records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			databases := map[string]string{}
			healthy := true
			for _, db := range []*database.DB{a.tickersDB, a.runsDB, a.monitorsDB} {
				if err := db.HealthCheck(ctx); err != nil {
					databases[db.Name()] = err.Error()
					healthy = false
					continue
				}
				if err := db.WALCheckpoint(""); err != nil {
					a.log.Warn().Err(err).Str("db", db.Name()).Msg("WAL checkpoint failed")
				}
				databases[db.Name()] = "ok"
			}

			jobsReport, err := a.dispatcher.HealthCheck(ctx)
			if err != nil {
				emitError(format, err)
				return err
			}

			system := map[string]float64{}
			if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
				system["cpu_percent"] = percents[0]
			}
			if vm, err := mem.VirtualMemory(); err == nil {
				system["memory_percent"] = vm.UsedPercent
			}

			if format == formatJSON {
				if err := printJSON(map[string]interface{}{
					"success":   healthy,
					"databases": databases,
					"jobs":      jobsReport,
					"system":    system,
				}); err != nil {
					return err
				}
			} else {
				for name, status := range databases {
					fmt.Printf("db %-10s %s\n", name, status)
				}
				fmt.Printf("jobs: restarted=%d killed=%d orphaned=%d\n",
					jobsReport.PendingRestarted, jobsReport.RunningKilled, jobsReport.RunningOrphaned)
			}
			if !healthy {
				return &partialError{msg: "one or more databases failed integrity checks"}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	return cmd
}

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the cron scheduler until interrupted",
		Long: `Starts the background scheduler with the daily update on its configured
cron expression (DAILY_SCHEDULE, default weekdays 18:30) and an hourly
stale-job health check, then blocks until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			sched := scheduler.New(a.log)
			if err := sched.AddJob(a.cfg.DailySchedule, scheduler.NewDailyUpdateJob(a.daily, a.log)); err != nil {
				return err
			}
			if err := sched.AddJob("0 0 * * * *", &healthJob{app: a}); err != nil {
				return err
			}

			sched.Start()
			defer sched.Stop()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-stop:
				a.log.Info().Str("signal", sig.String()).Msg("Shutting down scheduler")
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
	return cmd
}

// healthJob adapts the dispatcher health check to the scheduler's Job
// interface.
type healthJob struct {
	app *app
}

func (j *healthJob) Name() string { return "job_health_check" }

func (j *healthJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	_, err := j.app.dispatcher.HealthCheck(ctx)
	return err
}
