package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/utils"
)

func newGetBacktestResultsCmd() *cobra.Command {
	var (
		runID         int64
		strategyClass string
		last          int
		compare       string
		full          bool
		summaryOnly   bool
		format        string
	)
	cmd := &cobra.Command{
		Use:   "get-backtest-results",
		Short: "Fetch stored run metrics and reports",
		Long: `Fetches stored run results. --run-id shows one run, --strategy or --last
list recent runs, and --compare places several runs' metrics side by side.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			switch {
			case compare != "":
				return compareRuns(a, compare, format)
			case runID > 0:
				return showRun(a, runID, full && !summaryOnly, format)
			case strategyClass != "" || last > 0:
				return listRuns(a, strategyClass, last, format)
			}
			err = domain.NewError(domain.InvalidInput,
				"one of --run-id, --strategy, --last or --compare is required")
			emitError(format, err)
			return err
		},
	}
	cmd.Flags().Int64Var(&runID, "run-id", 0, "run record id")
	cmd.Flags().StringVar(&strategyClass, "strategy", "", "list recent runs of one strategy class")
	cmd.Flags().IntVar(&last, "last", 0, "list the N most recent runs")
	cmd.Flags().StringVar(&compare, "compare", "", "comma-separated run ids to compare side by side")
	cmd.Flags().BoolVar(&full, "full", false, "include the full report payload")
	cmd.Flags().BoolVar(&summaryOnly, "summary-only", false, "metrics only, no report or log output")
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	cmd.MarkFlagsMutuallyExclusive("full", "summary-only")
	return cmd
}

func showRun(a *app, runID int64, full bool, format string) error {
	run, err := a.runs.Get(runID)
	if err != nil {
		emitError(format, err)
		return err
	}
	if run == nil {
		err := domain.NewError(domain.InvalidInput, "unknown run %d", runID)
		emitError(format, err)
		return err
	}

	payload := map[string]interface{}{
		"success":  true,
		"run_id":   run.ID,
		"status":   run.Status,
		"strategy": run.StrategyClass,
		"metrics":  run.ResultMetrics,
	}
	if run.ErrorMessage != nil {
		payload["error_message"] = *run.ErrorMessage
	}
	if run.ExecutionSeconds != nil {
		payload["execution_time"] = *run.ExecutionSeconds
	}
	if full && len(run.ReportBlob) > 0 {
		var rep interface{}
		if err := json.Unmarshal(run.ReportBlob, &rep); err != nil {
			emitError(format, fmt.Errorf("corrupt report blob for run %d: %w", runID, err))
			return err
		}
		payload["report"] = rep
	}

	if format == formatJSON {
		return printJSON(payload)
	}
	fmt.Printf("run %d  strategy=%s status=%s\n", run.ID, run.StrategyClass, run.Status)
	if run.ErrorMessage != nil {
		fmt.Printf("error: %s\n", *run.ErrorMessage)
	}
	printMetricsHuman(run.ResultMetrics)
	if full && len(run.LogOutput) > 0 {
		fmt.Printf("--- log ---\n%s\n", run.LogOutput)
	}
	return nil
}

func listRuns(a *app, strategyClass string, last int, format string) error {
	if last <= 0 {
		last = 10
	}
	var (
		found []domain.Run
		err   error
	)
	if strategyClass != "" {
		found, err = a.runs.GetByStrategy(strategyClass, last)
	} else {
		found, err = a.runs.GetRecent(last)
	}
	if err != nil {
		emitError(format, err)
		return err
	}

	rows := make([]map[string]interface{}, 0, len(found))
	for _, run := range found {
		rows = append(rows, runSummary(&run))
	}
	if format == formatJSON {
		return printJSON(map[string]interface{}{"success": true, "runs": rows})
	}
	for _, run := range found {
		fmt.Printf("run %-5d %-14s %-9s %s..%s\n",
			run.ID, run.StrategyClass, run.Status, run.StartDate, run.EndDate)
	}
	return nil
}

func compareRuns(a *app, compare, format string) error {
	ids, err := parseRunIDs(compare)
	if err != nil {
		emitError(format, err)
		return err
	}
	rows := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		run, err := a.runs.Get(id)
		if err != nil {
			emitError(format, err)
			return err
		}
		if run == nil {
			err := domain.NewError(domain.InvalidInput, "unknown run %d", id)
			emitError(format, err)
			return err
		}
		rows = append(rows, runSummary(run))
	}

	if format == formatJSON {
		return printJSON(map[string]interface{}{"success": true, "runs": rows})
	}
	for _, row := range rows {
		fmt.Printf("run %v  strategy=%v status=%v\n", row["run_id"], row["strategy"], row["status"])
		if m, ok := row["metrics"].(map[string]float64); ok {
			printMetricsHuman(m)
		}
	}
	return nil
}

// runSummary is the listing and comparison view of a run: identity and
// metrics, no report blob or log.
func runSummary(run *domain.Run) map[string]interface{} {
	row := map[string]interface{}{
		"run_id":     run.ID,
		"name":       run.Name,
		"strategy":   run.StrategyClass,
		"status":     run.Status,
		"start_date": run.StartDate,
		"end_date":   run.EndDate,
		"metrics":    run.ResultMetrics,
	}
	if run.ErrorMessage != nil {
		row["error_message"] = *run.ErrorMessage
	}
	return row
}

func parseRunIDs(csv string) ([]int64, error) {
	var ids []int64
	for _, field := range utils.ParseCSV(csv) {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil || id <= 0 {
			return nil, domain.NewError(domain.InvalidInput, "invalid run id %q", field)
		}
		ids = append(ids, id)
	}
	if len(ids) < 2 {
		return nil, domain.NewError(domain.InvalidInput, "--compare needs at least two run ids")
	}
	return ids, nil
}

func newListStrategiesCmd() *cobra.Command {
	var (
		only    string
		details bool
		format  string
	)
	cmd := &cobra.Command{
		Use:   "list-strategies",
		Short: "List registered strategy classes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			names := a.registry.List()
			if only != "" {
				if _, err := a.registry.Describe(only); err != nil {
					emitError(format, err)
					return err
				}
				names = []string{only}
			}

			var described []interface{}
			for _, name := range names {
				d, err := a.registry.Describe(name)
				if err != nil {
					emitError(format, err)
					return err
				}
				described = append(described, d)
			}

			if format == formatJSON {
				return printJSON(map[string]interface{}{"success": true, "strategies": described})
			}
			for _, name := range names {
				d, _ := a.registry.Describe(name)
				fmt.Printf("%-14s lookback=%-4d %s\n", d.Name, d.Lookback, d.Description)
				if details {
					for k, v := range d.Parameters {
						fmt.Printf("    %s=%v\n", k, v)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&only, "strategy", "", "describe a single strategy class")
	cmd.Flags().BoolVar(&details, "details", false, "include parameter defaults in human output")
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	return cmd
}
