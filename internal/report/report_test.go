package report

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/modules/ledger"
	"github.com/avramidis/strategem/internal/modules/quotes"
	"github.com/avramidis/strategem/internal/modules/simulation"
)

func sampleResult() *simulation.Result {
	return &simulation.Result{
		StrategyClass:  "sma-cross",
		StartDate:      "2024-01-02",
		EndDate:        "2024-01-04",
		InitialCapital: decimal.NewFromInt(1000),
		Metrics:        map[string]float64{"net_profit": 136.36},
		TradeLog: []domain.TradeLogEntry{
			{Ticker: "AAPL", OpenTime: "2024-01-03", CloseTime: "2024-01-04", Profit: 136.36},
		},
		Capital: []ledger.EquityPoint{
			{Date: "2024-01-02", Equity: decimal.NewFromInt(1000)},
			{Date: "2024-01-04", Equity: decimal.NewFromFloat(1136.36)},
		},
		Drawdowns: []ledger.DrawdownPoint{
			{Date: "2024-01-02", Value: decimal.Zero},
			{Date: "2024-01-04", Value: decimal.NewFromInt(10)},
		},
	}
}

func TestFromResult(t *testing.T) {
	r := FromResult(sampleResult())

	assert.Equal(t, "sma-cross", r.StrategyClass)
	assert.Equal(t, 1000.0, r.InitialCapital)
	require.Len(t, r.Capital, 2)
	assert.Equal(t, 1136.36, r.Capital[1].Value)
	require.Len(t, r.Drawdowns, 2)
	assert.Equal(t, 10.0, r.Drawdowns[1].Value)
	assert.Nil(t, r.Optimization)
}

func TestFromSweep(t *testing.T) {
	best := simulation.Combination{
		Values: map[string]float64{"fast": 10},
		Result: sampleResult(),
	}
	sweep := &simulation.SweepResult{
		Combinations: []simulation.Combination{
			best,
			{Values: map[string]float64{"fast": 20}, Err: errors.New("no quote data")},
		},
		Best: &best,
	}

	r := FromSweep(sweep)
	require.NotNil(t, r.Optimization)
	assert.Equal(t, 2, r.Optimization.Combinations)
	assert.Equal(t, 1, r.Optimization.Failed)
	assert.Equal(t, map[string]float64{"fast": 10}, r.Optimization.Best)
	require.Len(t, r.Optimization.Ranking, 2)
	assert.NotNil(t, r.Optimization.Ranking[0].Metrics)
	assert.Equal(t, "no quote data", r.Optimization.Ranking[1].Error)
	assert.Equal(t, "sma-cross", r.StrategyClass, "the best result fills the top-level report")
}

func TestFromSweepWithoutSuccesses(t *testing.T) {
	sweep := &simulation.SweepResult{
		Combinations: []simulation.Combination{
			{Values: map[string]float64{"fast": 10}, Err: errors.New("boom")},
		},
	}

	r := FromSweep(sweep)
	assert.Empty(t, r.StrategyClass)
	require.NotNil(t, r.Optimization)
	assert.Equal(t, 1, r.Optimization.Failed)
	assert.Nil(t, r.Optimization.Best)
}

func TestRunReportEncodeRoundTrip(t *testing.T) {
	blob, err := FromResult(sampleResult()).Encode()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(blob, &decoded))
	assert.Equal(t, "sma-cross", decoded["strategy_class"])
	_, hasOpt := decoded["optimization"]
	assert.False(t, hasOpt, "omitted for plain runs")
}

func TestDailyReportEncode(t *testing.T) {
	d := &DailyReport{
		Date:        "2024-01-08",
		GeneratedAt: time.Date(2024, 1, 8, 18, 30, 0, 0, time.UTC),
		Quotes:      &quotes.UpdateStats{Tickers: 3, Updated: 2, Failed: 1, BarsSeen: 12},
		Monitors:    MonitorSummary{Advanced: 2, Skipped: 1},
		Notify:      &NotifyTarget{SMTPHost: "mail.local", SMTPPort: 587, From: "a@b", To: "c@d"},
	}

	blob, err := d.Encode()
	require.NoError(t, err)

	var decoded DailyReport
	require.NoError(t, json.Unmarshal(blob, &decoded))
	assert.Equal(t, "2024-01-08", decoded.Date)
	assert.Equal(t, 2, decoded.Monitors.Advanced)
	require.NotNil(t, decoded.Quotes)
	assert.Equal(t, 1, decoded.Quotes.Failed)
	require.NotNil(t, decoded.Notify)
	assert.Equal(t, 587, decoded.Notify.SMTPPort)
}
