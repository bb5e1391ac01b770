package simulation

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/modules/series"
	"github.com/avramidis/strategem/internal/modules/strategy"
)

// SweepConfig describes one optimization run: the kernel inputs plus the
// parameter ranges to enumerate.
type SweepConfig struct {
	StrategyClass  string
	BaseParams     strategy.Params
	Params         []domain.OptimizationParam
	Assets         *series.Group
	StartDate      string
	EndDate        string
	Resolution     domain.Resolution
	Benchmark      *series.Asset
	InitialCapital decimal.Decimal
}

// Combination is one parameter vector with its simulation outcome.
type Combination struct {
	Values map[string]float64
	Result *Result
	Err    error
}

// SweepResult ranks all combinations and exposes the best handle.
type SweepResult struct {
	Combinations []Combination // ranked, best first; failed combinations last
	Best         *Combination  // nil when every combination failed
}

// Optimizer enumerates the Cartesian product of parameter ranges and runs an
// isolated simulation per combination, sequentially: one optimization run is
// one process, keeping memory bounded to one active simulation.
type Optimizer struct {
	registry *strategy.Registry
	kernel   *Kernel
	log      zerolog.Logger
}

// NewOptimizer creates an optimization driver.
func NewOptimizer(registry *strategy.Registry, kernel *Kernel, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		registry: registry,
		kernel:   kernel,
		log:      log.With().Str("component", "optimizer").Logger(),
	}
}

// Run executes the sweep. Per-combination faults are recorded and the sweep
// continues; the sweep itself fails only when no combination succeeded or
// the input is invalid. Context cancellation halts before the next
// combination, preserving completed ones.
func (o *Optimizer) Run(ctx context.Context, cfg SweepConfig) (*SweepResult, error) {
	if len(cfg.Params) == 0 {
		return nil, domain.NewError(domain.InvalidInput, "optimization requires at least one parameter range")
	}
	for _, p := range cfg.Params {
		if p.Step <= 0 {
			return nil, domain.NewError(domain.InvalidInput, "parameter %q: step must be positive", p.Name)
		}
		if p.From > p.To {
			return nil, domain.NewError(domain.InvalidInput, "parameter %q: from exceeds to", p.Name)
		}
	}
	if !o.registry.IsValid(cfg.StrategyClass) {
		return nil, domain.NewError(domain.InvalidInput, "unknown strategy %q", cfg.StrategyClass)
	}

	combos := enumerate(cfg.Params)
	o.log.Info().Str("strategy", cfg.StrategyClass).Int("combinations", len(combos)).
		Msg("Starting optimization sweep")

	result := &SweepResult{}
	for i, values := range combos {
		if err := ctx.Err(); err != nil {
			o.log.Warn().Int("completed", i).Int("total", len(combos)).
				Msg("Sweep cancelled, preserving completed combinations")
			break
		}

		overrides := cfg.BaseParams.Clone()
		if overrides == nil {
			overrides = strategy.Params{}
		}
		for name, v := range values {
			overrides[name] = v
		}

		st, err := o.registry.Instantiate(cfg.StrategyClass, overrides)
		if err != nil {
			return nil, err
		}

		res, err := o.kernel.Run(Config{
			Strategy:       st,
			Assets:         cfg.Assets,
			StartDate:      cfg.StartDate,
			EndDate:        cfg.EndDate,
			Resolution:     cfg.Resolution,
			Benchmark:      cfg.Benchmark,
			InitialCapital: cfg.InitialCapital,
		})
		if err != nil {
			o.log.Warn().Err(err).Interface("values", values).Msg("Combination failed, continuing")
			result.Combinations = append(result.Combinations, Combination{Values: values, Err: err})
			continue
		}
		result.Combinations = append(result.Combinations, Combination{Values: values, Result: res})
	}

	rank(result.Combinations)
	for i := range result.Combinations {
		if result.Combinations[i].Err == nil {
			result.Best = &result.Combinations[i]
			break
		}
	}
	if result.Best == nil {
		return result, domain.NewError(domain.StrategyFault, "all %d combinations failed", len(combos))
	}
	return result, nil
}

// enumerate expands the Cartesian product of the parameter value lists.
// Parameters are ordered by name so enumeration is deterministic.
func enumerate(params []domain.OptimizationParam) []map[string]float64 {
	ordered := make([]domain.OptimizationParam, len(params))
	copy(ordered, params)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	combos := []map[string]float64{{}}
	for _, p := range ordered {
		values := p.Values()
		next := make([]map[string]float64, 0, len(combos)*len(values))
		for _, base := range combos {
			for _, v := range values {
				m := make(map[string]float64, len(base)+1)
				for k, bv := range base {
					m[k] = bv
				}
				m[p.Name] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}

// rank orders combinations best first: netProfit descending, then lower
// maxDrawdownPercent, then lexicographically smaller parameter vector by
// name. Failed combinations sort last.
func rank(combos []Combination) {
	sort.SliceStable(combos, func(i, j int) bool {
		a, b := combos[i], combos[j]
		if (a.Err == nil) != (b.Err == nil) {
			return a.Err == nil
		}
		if a.Err != nil {
			return false
		}
		if a.Result.Stats.NetProfit != b.Result.Stats.NetProfit {
			return a.Result.Stats.NetProfit > b.Result.Stats.NetProfit
		}
		if a.Result.Stats.MaxDrawdownPercent != b.Result.Stats.MaxDrawdownPercent {
			return a.Result.Stats.MaxDrawdownPercent < b.Result.Stats.MaxDrawdownPercent
		}
		return lessParams(a.Values, b.Values)
	})
}

// lessParams compares parameter vectors lexicographically by sorted name.
func lessParams(a, b map[string]float64) bool {
	names := make([]string, 0, len(a))
	for n := range a {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if a[n] != b[n] {
			return a[n] < b[n]
		}
	}
	return false
}
