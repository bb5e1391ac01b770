package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/report"
)

// runResultPayload is the JSON success envelope of run-backtest.
type runResultPayload struct {
	Success       bool                   `json:"success"`
	RunID         int64                  `json:"run_id,omitempty"`
	ExecutionTime float64                `json:"execution_time"`
	Metrics       map[string]float64     `json:"metrics"`
	Configuration map[string]interface{} `json:"configuration"`
}

func newRunBacktestCmd() *cobra.Command {
	var (
		runID          int64
		strategyClass  string
		tickers        string
		startDate      string
		endDate        string
		initialCapital float64
		benchmark      string
		params         []string
		optimize       bool
		optRanges      []string
		noSave         bool
		format         string
	)

	cmd := &cobra.Command{
		Use:   "run-backtest",
		Short: "Execute a backtest or optimization sweep",
		Long: `Executes a backtest. With --run-id an existing pending run record is
executed (the dispatcher's child mode); --run-id together with --no-save
replays a stored run of any status without touching its record. Otherwise
the flags describe an ad-hoc run, persisted unless --no-save is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			release, err := a.locks.Acquire("backtest")
			if err != nil {
				emitError(format, err)
				return err
			}
			defer release()

			ctx := cmd.Context()
			start := time.Now()

			if runID > 0 {
				// Replay mode: re-execute a stored run, record untouched.
				if noSave {
					rep, _, err := a.executor.Replay(ctx, runID)
					if err != nil {
						emitError(format, err)
						return err
					}
					stored, _ := a.runs.Get(runID)
					return emitRunResult(format, runID, time.Since(start).Seconds(), rep, stored)
				}

				// Child mode: execute an existing pending record.
				rep, err := a.executor.ExecuteRecord(ctx, runID)
				if err != nil {
					emitError(format, err)
					return err
				}
				stored, _ := a.runs.Get(runID)
				return emitRunResult(format, runID, time.Since(start).Seconds(), rep, stored)
			}

			run, err := buildRun(a, strategyClass, tickers, startDate, endDate,
				initialCapital, benchmark, params, optimize, optRanges)
			if err != nil {
				emitError(format, err)
				return err
			}

			if noSave {
				rep, _, err := a.executor.Execute(ctx, run)
				if err != nil {
					emitError(format, err)
					return err
				}
				return emitRunResult(format, 0, time.Since(start).Seconds(), rep, run)
			}

			id, err := a.runs.Create(run)
			if err != nil {
				emitError(format, err)
				return err
			}
			rep, err := a.executor.ExecuteRecord(ctx, id)
			if err != nil {
				emitError(format, err)
				return err
			}
			return emitRunResult(format, id, time.Since(start).Seconds(), rep, run)
		},
	}

	cmd.Flags().Int64Var(&runID, "run-id", 0, "execute an existing pending run record (with --no-save: replay any stored run)")
	cmd.Flags().StringVar(&strategyClass, "strategy", "", "strategy class name")
	cmd.Flags().StringVar(&tickers, "tickers", "", "comma-separated ticker symbols")
	cmd.Flags().StringVar(&startDate, "start-date", "", "first simulated date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "last simulated date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&initialCapital, "initial-capital", 10000, "starting capital")
	cmd.Flags().StringVar(&benchmark, "benchmark", "", "benchmark ticker symbol")
	cmd.Flags().StringArrayVar(&params, "param", nil, "strategy parameter override name=value (repeatable)")
	cmd.Flags().BoolVar(&optimize, "optimize", false, "run a parameter optimization sweep")
	cmd.Flags().StringArrayVar(&optRanges, "opt", nil, "optimization range name=from:to:step (repeatable)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "run without persisting a run record")
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	return cmd
}

func buildRun(a *app, strategyClass, tickers, startDate, endDate string,
	initialCapital float64, benchmark string, params []string,
	optimize bool, optRanges []string) (*domain.Run, error) {

	if strategyClass == "" {
		return nil, domain.NewError(domain.InvalidInput, "--strategy is required")
	}
	if startDate == "" || endDate == "" {
		return nil, domain.NewError(domain.InvalidInput, "--start-date and --end-date are required")
	}
	tickerIDs, err := resolveTickerIDs(a, tickers)
	if err != nil {
		return nil, err
	}
	parsed, err := parseParams(params)
	if err != nil {
		return nil, err
	}

	run := &domain.Run{
		StrategyClass:      strategyClass,
		StrategyParameters: parsed,
		TickerIDs:          tickerIDs,
		StartDate:          startDate,
		EndDate:            endDate,
		InitialCapital:     initialCapital,
	}

	if benchmark != "" {
		b, err := a.tickers.GetBySymbol(benchmark)
		if err != nil {
			return nil, domain.WrapError(domain.PersistenceFault, err, "resolve benchmark %s", benchmark)
		}
		if b == nil {
			return nil, domain.NewError(domain.InvalidInput, "unknown benchmark ticker %q", benchmark)
		}
		run.BenchmarkTickerID = &b.ID
	}

	if optimize {
		ranges, err := parseOptParams(optRanges)
		if err != nil {
			return nil, err
		}
		if len(ranges) == 0 {
			return nil, domain.NewError(domain.InvalidInput, "--optimize requires at least one --opt range")
		}
		run.IsOptimization = true
		run.OptimizationParams = ranges
	}
	return run, nil
}

// runConfiguration assembles the configuration block of the JSON envelope.
// run may be nil when the record could not be re-read.
func runConfiguration(rep *report.RunReport, run *domain.Run) map[string]interface{} {
	cfg := map[string]interface{}{
		"strategy":        rep.StrategyClass,
		"start_date":      rep.StartDate,
		"end_date":        rep.EndDate,
		"initial_capital": rep.InitialCapital,
	}
	if run != nil {
		cfg["name"] = run.Name
		cfg["tickers"] = run.TickerIDs
		cfg["is_optimization"] = run.IsOptimization
	}
	return cfg
}

func emitRunResult(format string, runID int64, elapsed float64, rep *report.RunReport, run *domain.Run) error {
	if format == formatJSON {
		return printJSON(runResultPayload{
			Success:       true,
			RunID:         runID,
			ExecutionTime: elapsed,
			Metrics:       rep.Metrics,
			Configuration: runConfiguration(rep, run),
		})
	}

	fmt.Printf("strategy %s  %s..%s  initial %.2f\n",
		rep.StrategyClass, rep.StartDate, rep.EndDate, rep.InitialCapital)
	if runID > 0 {
		fmt.Printf("run id %d (%.2fs)\n", runID, elapsed)
	}
	printMetricsHuman(rep.Metrics)
	if rep.Optimization != nil {
		fmt.Printf("optimization: %d combinations, %d failed\n",
			rep.Optimization.Combinations, rep.Optimization.Failed)
		if rep.Optimization.Best != nil {
			fmt.Printf("best parameters:\n")
			printMetricsHuman(rep.Optimization.Best)
		}
	}
	fmt.Printf("trades: %d\n", len(rep.Trades))
	return nil
}
