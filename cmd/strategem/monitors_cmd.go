package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/jobs"
	"github.com/avramidis/strategem/internal/utils"
)

func newCreateMonitorCmd() *cobra.Command {
	var (
		name           string
		strategyClass  string
		tickers        string
		startDate      string
		initialCapital float64
		params         []string
		format         string
	)
	cmd := &cobra.Command{
		Use:   "create-monitor",
		Short: "Create a forward-test monitor in initializing state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if strategyClass == "" || startDate == "" {
				err := domain.NewError(domain.InvalidInput, "--strategy and --start-date are required")
				emitError(format, err)
				return err
			}
			tickerIDs, err := resolveTickerIDs(a, tickers)
			if err != nil {
				emitError(format, err)
				return err
			}
			parsed, err := parseParams(params)
			if err != nil {
				emitError(format, err)
				return err
			}
			if !a.registry.IsValid(strategyClass) {
				err := domain.NewError(domain.InvalidInput, "unknown strategy %q", strategyClass)
				emitError(format, err)
				return err
			}

			m := &domain.Monitor{
				Name:               name,
				StrategyClass:      strategyClass,
				StrategyParameters: parsed,
				TickerIDs:          tickerIDs,
				StartDate:          startDate,
				InitialCapital:     initialCapital,
			}
			id, err := a.monitors.Create(m)
			if err != nil {
				emitError(format, err)
				return err
			}
			if format == formatJSON {
				return printJSON(map[string]interface{}{"success": true, "monitor_id": id})
			}
			fmt.Printf("created monitor %d; run monitor-backtest --monitor-id %d to activate it\n", id, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "monitor display name")
	cmd.Flags().StringVar(&strategyClass, "strategy", "", "strategy class name")
	cmd.Flags().StringVar(&tickers, "tickers", "", "comma-separated ticker symbols")
	cmd.Flags().StringVar(&startDate, "start-date", "", "forward-test start date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&initialCapital, "initial-capital", 10000, "starting capital")
	cmd.Flags().StringArrayVar(&params, "param", nil, "strategy parameter override name=value (repeatable)")
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	return cmd
}

func newMonitorBacktestCmd() *cobra.Command {
	var (
		monitorID int64
		format    string
	)
	cmd := &cobra.Command{
		Use:   "monitor-backtest",
		Short: "Run a monitor's initial backtest, activating it on success",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			release, err := a.locks.Acquire(jobs.MonitorClass(a.cfg.PerMonitorLocks, monitorID))
			if err != nil {
				emitError(format, err)
				return err
			}
			defer release()

			if err := a.monitorSvc.RunInitialBacktest(cmd.Context(), monitorID); err != nil {
				emitError(format, err)
				return err
			}
			if format == formatJSON {
				return printJSON(map[string]interface{}{"success": true, "monitor_id": monitorID})
			}
			fmt.Printf("monitor %d initial backtest complete, monitor active\n", monitorID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&monitorID, "monitor-id", 0, "monitor to initialize")
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	_ = cmd.MarkFlagRequired("monitor-id")
	return cmd
}

func newUpdateMonitorCmd() *cobra.Command {
	var (
		monitorID int64
		date      string
		format    string
	)
	cmd := &cobra.Command{
		Use:   "update-monitor",
		Short: "Advance a monitor by one trading day (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if date == "" {
				date = utils.Today()
			}

			release, err := a.locks.Acquire(jobs.MonitorClass(a.cfg.PerMonitorLocks, monitorID))
			if err != nil {
				emitError(format, err)
				return err
			}
			defer release()

			res, err := a.monitorSvc.Advance(cmd.Context(), monitorID, date)
			if err != nil {
				emitError(format, err)
				return err
			}
			if format == formatJSON {
				return printJSON(map[string]interface{}{"success": true, "result": res})
			}
			fmt.Printf("monitor %d on %s: %s", monitorID, res.Date, res.Outcome)
			if res.Outcome == "advanced" {
				fmt.Printf("  equity=%s trades=%d", res.Equity, res.Trades)
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().Int64Var(&monitorID, "monitor-id", 0, "monitor to advance")
	cmd.Flags().StringVar(&date, "date", "", "trading day to process (default today)")
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	_ = cmd.MarkFlagRequired("monitor-id")
	return cmd
}

func newListMonitorsCmd() *cobra.Command {
	var (
		status string
		format string
	)
	cmd := &cobra.Command{
		Use:   "list-monitors",
		Short: "List monitors by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			var all []domain.Monitor
			statuses := []domain.MonitorStatus{
				domain.MonitorInitializing, domain.MonitorActive,
				domain.MonitorStopped, domain.MonitorFailed,
			}
			if status != "" {
				statuses = []domain.MonitorStatus{domain.MonitorStatus(status)}
			}
			for _, st := range statuses {
				ms, err := a.monitors.ListByStatus(st)
				if err != nil {
					emitError(format, err)
					return err
				}
				all = append(all, ms...)
			}

			if format == formatJSON {
				return printJSON(map[string]interface{}{"success": true, "monitors": all})
			}
			for _, m := range all {
				cursor := "-"
				if m.LastProcessedDate != nil {
					cursor = *m.LastProcessedDate
				}
				fmt.Printf("%4d  %-12s %-20s strategy=%s cursor=%s progress=%d%%\n",
					m.ID, m.Status, m.Name, m.StrategyClass, cursor, m.BacktestProgress)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	return cmd
}

func newStopMonitorCmd() *cobra.Command {
	var (
		monitorID int64
		format    string
	)
	cmd := &cobra.Command{
		Use:   "stop-monitor",
		Short: "Stop a monitor; daily updates no longer advance it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.monitorSvc.Stop(monitorID); err != nil {
				emitError(format, err)
				return err
			}
			if format == formatJSON {
				return printJSON(map[string]interface{}{"success": true, "monitor_id": monitorID})
			}
			fmt.Printf("monitor %d stopped\n", monitorID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&monitorID, "monitor-id", 0, "monitor to stop")
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	_ = cmd.MarkFlagRequired("monitor-id")
	return cmd
}
