// Package report builds the serialized result payloads stored with run
// records and handed to external notifiers after a daily update.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/modules/quotes"
	"github.com/avramidis/strategem/internal/modules/simulation"
)

// SeriesPoint is one dated float value in a report series.
type SeriesPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// RunReport is the full result payload persisted as a run's report blob.
type RunReport struct {
	StrategyClass  string                      `json:"strategy_class"`
	StartDate      string                      `json:"start_date"`
	EndDate        string                      `json:"end_date"`
	InitialCapital float64                     `json:"initial_capital"`
	Metrics        map[string]float64          `json:"metrics"`
	Trades         []domain.TradeLogEntry      `json:"trades"`
	Capital        []SeriesPoint               `json:"capital"`
	Drawdowns      []SeriesPoint               `json:"drawdowns"`
	Benchmark      []simulation.BenchmarkPoint `json:"benchmark,omitempty"`
	Optimization   *OptimizationReport         `json:"optimization,omitempty"`
}

// OptimizationReport summarizes a parameter sweep inside a run report.
type OptimizationReport struct {
	Combinations int                  `json:"combinations"`
	Failed       int                  `json:"failed"`
	Best         map[string]float64   `json:"best_parameters,omitempty"`
	Ranking      []CombinationSummary `json:"ranking"`
}

// CombinationSummary is one sweep entry in rank order.
type CombinationSummary struct {
	Parameters map[string]float64 `json:"parameters"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// FromResult builds a run report from a single simulation result.
func FromResult(res *simulation.Result) *RunReport {
	initial, _ := res.InitialCapital.Float64()
	r := &RunReport{
		StrategyClass:  res.StrategyClass,
		StartDate:      res.StartDate,
		EndDate:        res.EndDate,
		InitialCapital: initial,
		Metrics:        res.Metrics,
		Trades:         res.TradeLog,
		Benchmark:      res.Benchmark,
	}
	for _, pt := range res.Capital {
		eq, _ := pt.Equity.Float64()
		r.Capital = append(r.Capital, SeriesPoint{Date: pt.Date, Value: eq})
	}
	for _, pt := range res.Drawdowns {
		v, _ := pt.Value.Float64()
		r.Drawdowns = append(r.Drawdowns, SeriesPoint{Date: pt.Date, Value: v})
	}
	return r
}

// FromSweep builds a run report from an optimization sweep: the best
// combination's full result plus the ranked summary.
func FromSweep(sweep *simulation.SweepResult) *RunReport {
	var r *RunReport
	if sweep.Best != nil && sweep.Best.Result != nil {
		r = FromResult(sweep.Best.Result)
	} else {
		r = &RunReport{}
	}

	opt := &OptimizationReport{Combinations: len(sweep.Combinations)}
	if sweep.Best != nil {
		opt.Best = sweep.Best.Values
	}
	for _, c := range sweep.Combinations {
		entry := CombinationSummary{Parameters: c.Values}
		if c.Err != nil {
			entry.Error = c.Err.Error()
			opt.Failed++
		} else if c.Result != nil {
			entry.Metrics = c.Result.Metrics
		}
		opt.Ranking = append(opt.Ranking, entry)
	}
	r.Optimization = opt
	return r
}

// Encode marshals a report for the run record's blob column.
func (r *RunReport) Encode() ([]byte, error) {
	blob, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run report: %w", err)
	}
	return blob, nil
}

// DailyReport is the consolidated outcome of one daily update, handed to the
// external notifier as JSON.
type DailyReport struct {
	Date        string              `json:"date"`
	GeneratedAt time.Time           `json:"generated_at"`
	Quotes      *quotes.UpdateStats `json:"quotes,omitempty"`
	Monitors    MonitorSummary      `json:"monitors"`
	Notify      *NotifyTarget       `json:"notify,omitempty"`
}

// MonitorSummary counts per-monitor daily-advance outcomes.
type MonitorSummary struct {
	Advanced int `json:"advanced"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// NotifyTarget carries the mail routing the external notifier should use.
// The engine itself never sends mail.
type NotifyTarget struct {
	SMTPHost string `json:"smtp_host"`
	SMTPPort int    `json:"smtp_port"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// Encode marshals the daily report payload.
func (d *DailyReport) Encode() ([]byte, error) {
	blob, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode daily report: %w", err)
	}
	return blob, nil
}
