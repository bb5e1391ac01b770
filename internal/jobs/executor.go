package jobs

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/modules/series"
	"github.com/avramidis/strategem/internal/modules/simulation"
	"github.com/avramidis/strategem/internal/modules/strategy"
	"github.com/avramidis/strategem/internal/report"
	"github.com/avramidis/strategem/internal/utils"
)

// Executor performs the actual backtest or optimization work of a run. It is
// invoked in-process for ad-hoc runs and inside the spawned child process for
// record-backed runs.
type Executor struct {
	runs      domain.RunRepo
	store     *series.Store
	registry  *strategy.Registry
	kernel    *simulation.Kernel
	optimizer *simulation.Optimizer
	log       zerolog.Logger
}

// NewExecutor creates a run executor.
func NewExecutor(runs domain.RunRepo, store *series.Store, registry *strategy.Registry,
	kernel *simulation.Kernel, optimizer *simulation.Optimizer, log zerolog.Logger) *Executor {
	return &Executor{
		runs:      runs,
		store:     store,
		registry:  registry,
		kernel:    kernel,
		optimizer: optimizer,
		log:       log.With().Str("component", "executor").Logger(),
	}
}

// ExecuteRecord runs a persisted run record end to end: marks it running
// under this pid, executes, and stores results or the failure.
func (e *Executor) ExecuteRecord(ctx context.Context, runID int64) (*report.RunReport, error) {
	run, err := e.runs.Get(runID)
	if err != nil {
		return nil, domain.WrapError(domain.PersistenceFault, err, "load run %d", runID)
	}
	if run == nil {
		return nil, domain.NewError(domain.InvalidInput, "unknown run %d", runID)
	}
	if run.Status != domain.RunPending {
		return nil, domain.NewError(domain.InvalidInput, "run %d is %s, execution requires pending", runID, run.Status)
	}
	if err := e.runs.UpdateStatus(runID, domain.RunRunning, os.Getpid()); err != nil {
		return nil, err
	}

	start := time.Now()
	rep, metrics, err := e.Execute(ctx, run)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		if uerr := e.runs.UpdateError(runID, err.Error()); uerr != nil {
			e.log.Error().Err(uerr).Int64("run_id", runID).Msg("Failed to record run error")
		}
		return nil, err
	}

	blob, err := rep.Encode()
	if err != nil {
		if uerr := e.runs.UpdateError(runID, err.Error()); uerr != nil {
			e.log.Error().Err(uerr).Int64("run_id", runID).Msg("Failed to record run error")
		}
		return nil, err
	}
	if err := e.runs.UpdateResults(runID, metrics, blob, elapsed); err != nil {
		return nil, err
	}
	e.log.Info().Int64("run_id", runID).Float64("execution_seconds", elapsed).Msg("Run completed")
	return rep, nil
}

// Replay re-executes a stored run's configuration without touching its
// record. The run may be in any state; completed runs replay against the
// quotes currently stored.
func (e *Executor) Replay(ctx context.Context, runID int64) (*report.RunReport, map[string]float64, error) {
	run, err := e.runs.Get(runID)
	if err != nil {
		return nil, nil, domain.WrapError(domain.PersistenceFault, err, "load run %d", runID)
	}
	if run == nil {
		return nil, nil, domain.NewError(domain.InvalidInput, "unknown run %d", runID)
	}
	e.log.Info().Int64("run_id", runID).Str("status", string(run.Status)).Msg("Replaying run")
	return e.Execute(ctx, run)
}

// Execute performs the run's work without touching its record, so ad-hoc
// runs can share the path.
func (e *Executor) Execute(ctx context.Context, run *domain.Run) (*report.RunReport, map[string]float64, error) {
	params := strategy.Params(run.StrategyParameters)
	st, err := e.registry.Instantiate(run.StrategyClass, params)
	if err != nil {
		return nil, nil, err
	}

	lookback := st.MaxLookback()
	// Swept parameters can deepen the lookback beyond the base instance.
	for _, p := range run.OptimizationParams {
		if int(p.To) > lookback {
			lookback = int(p.To)
		}
	}

	loadStart := run.StartDate
	if padded, err := utils.AddDays(run.StartDate, -(lookback*2 + 30)); err == nil {
		loadStart = padded
	}

	assets := series.NewGroup()
	for _, id := range run.TickerIDs {
		asset, err := e.store.LoadWindow(id, loadStart, run.EndDate)
		if err != nil {
			return nil, nil, err
		}
		assets.Add(asset)
	}

	var benchmark *series.Asset
	if run.BenchmarkTickerID != nil {
		benchmark, err = e.store.LoadWindow(*run.BenchmarkTickerID, loadStart, run.EndDate)
		if err != nil {
			return nil, nil, err
		}
	}

	capital := decimal.NewFromFloat(run.InitialCapital)

	if run.IsOptimization {
		sweep, err := e.optimizer.Run(ctx, simulation.SweepConfig{
			StrategyClass:  run.StrategyClass,
			BaseParams:     params,
			Params:         run.OptimizationParams,
			Assets:         assets,
			StartDate:      run.StartDate,
			EndDate:        run.EndDate,
			Resolution:     domain.Daily,
			Benchmark:      benchmark,
			InitialCapital: capital,
		})
		if err != nil {
			return nil, nil, err
		}
		rep := report.FromSweep(sweep)
		metrics := make(map[string]float64, len(rep.Metrics)+1)
		for k, v := range rep.Metrics {
			metrics[k] = v
		}
		metrics["combinations"] = float64(len(sweep.Combinations))
		return rep, metrics, nil
	}

	res, err := e.kernel.Run(simulation.Config{
		Strategy:       st,
		Assets:         assets,
		StartDate:      run.StartDate,
		EndDate:        run.EndDate,
		Resolution:     domain.Daily,
		Benchmark:      benchmark,
		InitialCapital: capital,
	})
	if err != nil {
		return nil, nil, err
	}
	return report.FromResult(res), res.Metrics, nil
}
