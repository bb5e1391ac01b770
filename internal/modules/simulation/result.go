package simulation

import (
	"github.com/shopspring/decimal"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/modules/ledger"
	"github.com/avramidis/strategem/internal/modules/series"
)

// BenchmarkPoint is the buy-and-hold percent return of the benchmark asset
// on one capital-series date.
type BenchmarkPoint struct {
	Date    string  `json:"date"`
	Percent float64 `json:"percent"`
}

// Result is the terminal state of one simulation run.
type Result struct {
	StrategyClass     string
	StartDate         string
	EndDate           string
	LastProcessedDate string
	InitialCapital    decimal.Decimal

	Stats     ledger.Statistics
	Metrics   map[string]float64
	TradeLog  []domain.TradeLogEntry
	Capital   []ledger.EquityPoint
	Drawdowns []ledger.DrawdownPoint
	Benchmark []BenchmarkPoint

	// Ledger keeps the terminal ledger reachable for monitors and tests.
	Ledger *ledger.Ledger

	benchmarkAsset *series.Asset
}

func newResult(cfg Config, led *ledger.Ledger) *Result {
	return &Result{
		StrategyClass:  cfg.Strategy.Name(),
		StartDate:      cfg.StartDate,
		EndDate:        cfg.EndDate,
		InitialCapital: cfg.InitialCapital,
		Ledger:         led,
		benchmarkAsset: cfg.Benchmark,
	}
}

// finish captures the ledger's terminal series and statistics. Called on
// both success and failure paths so failed runs preserve state at the point
// of failure.
func (r *Result) finish(led *ledger.Ledger) {
	r.Stats = led.Compute()
	r.Metrics = r.Stats.ToMap()
	r.TradeLog = led.TradeLog()
	r.Capital = led.CapitalSeries()
	r.Drawdowns = led.DrawdownSeries()
	r.Benchmark = benchmarkOverlay(r.benchmarkAsset, r.Capital)
}

// benchmarkOverlay computes the buy-and-hold percent series of the benchmark
// aligned to the capital dates. Dates where the benchmark did not trade are
// forward-filled from its latest close on or before the date.
func benchmarkOverlay(bench *series.Asset, capital []ledger.EquityPoint) []BenchmarkPoint {
	if bench == nil || bench.Len() == 0 || len(capital) == 0 {
		return nil
	}
	base := bench.LatestOnOrBefore(capital[0].Date)
	if base == nil || base.Close == 0 {
		return nil
	}
	out := make([]BenchmarkPoint, 0, len(capital))
	for _, pt := range capital {
		bar := bench.LatestOnOrBefore(pt.Date)
		pct := 0.0
		if bar != nil {
			pct = (bar.Close - base.Close) / base.Close * 100
		}
		out = append(out, BenchmarkPoint{Date: pt.Date, Percent: pct})
	}
	return out
}

// FinalEquity returns the last capital-series equity, or the initial capital
// when no bar was processed.
func (r *Result) FinalEquity() decimal.Decimal {
	if len(r.Capital) == 0 {
		return r.InitialCapital
	}
	return r.Capital[len(r.Capital)-1].Equity
}
