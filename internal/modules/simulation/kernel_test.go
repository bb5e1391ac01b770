package simulation

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/modules/ledger"
	"github.com/avramidis/strategem/internal/modules/series"
	"github.com/avramidis/strategem/internal/modules/strategy"
)

// hookStrategy drives the kernel through closures so each test scripts
// exactly the bar events it needs.
type hookStrategy struct {
	strategy.Base
	rt       *strategy.Runtime
	lookback int
	onOpen   func(g *series.Group, date string) error
	onClose  func(g *series.Group, date string) error
}

func newHook(lookback int) *hookStrategy {
	rt := strategy.NewRuntime(strategy.Params{})
	return &hookStrategy{Base: strategy.NewBase(rt), rt: rt, lookback: lookback}
}

func (s *hookStrategy) Name() string     { return "hook" }
func (s *hookStrategy) MaxLookback() int { return s.lookback }

func (s *hookStrategy) OnOpen(g *series.Group, date string, live bool) error {
	if s.onOpen == nil {
		return nil
	}
	return s.onOpen(g, date)
}

func (s *hookStrategy) OnClose(g *series.Group, date string, live bool) error {
	if s.onClose == nil {
		return nil
	}
	return s.onClose(g, date)
}

func ohlc(date string, open, close float64) domain.Bar {
	return domain.Bar{
		Date: date, Open: open, Close: close,
		High: math.Max(open, close), Low: math.Min(open, close),
		Volume: 1000,
	}
}

func groupOf(symbol string, bars ...domain.Bar) *series.Group {
	g := series.NewGroup()
	g.Add(series.NewAsset(symbol, "", bars))
	return g
}

func baseConfig(st strategy.Strategy, g *series.Group, start, end string) Config {
	return Config{
		Strategy:       st,
		Assets:         g,
		StartDate:      start,
		EndDate:        end,
		Resolution:     domain.Daily,
		InitialCapital: decimal.NewFromInt(1000),
	}
}

func TestRunValidatesWindow(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := groupOf("AAA", ohlc("2024-01-02", 100, 100))

	_, err := k.Run(baseConfig(newHook(0), g, "2024-01-05", "2024-01-02"))
	assert.True(t, domain.IsKind(err, domain.InvalidInput), "start after end: %v", err)

	_, err = k.Run(baseConfig(newHook(0), g, "02-01-2024", "2024-01-05"))
	assert.True(t, domain.IsKind(err, domain.InvalidInput), "malformed date: %v", err)

	cfg := baseConfig(nil, g, "2024-01-02", "2024-01-05")
	_, err = k.Run(cfg)
	assert.True(t, domain.IsKind(err, domain.InvalidInput), "nil strategy: %v", err)
}

func TestRunRequiresData(t *testing.T) {
	k := NewKernel(zerolog.Nop())

	_, err := k.Run(baseConfig(newHook(0), series.NewGroup(), "2024-01-02", "2024-01-05"))
	assert.True(t, domain.IsKind(err, domain.NoData), "empty group: %v", err)

	g := groupOf("AAA", ohlc("2023-06-01", 100, 100))
	_, err = k.Run(baseConfig(newHook(0), g, "2024-01-02", "2024-01-05"))
	assert.True(t, domain.IsKind(err, domain.NoData), "no bars in window: %v", err)
}

func TestSignalsExecuteAtNextOpen(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := groupOf("AAA",
		ohlc("2024-01-02", 100, 105),
		ohlc("2024-01-03", 110, 115),
		ohlc("2024-01-04", 125, 130),
	)

	st := newHook(0)
	st.onClose = func(_ *series.Group, date string) error {
		switch date {
		case "2024-01-02":
			st.rt.Entry(domain.Long, "AAA", 1, "entry")
		case "2024-01-03":
			positions := st.rt.OpenPositions()
			require.Len(t, positions, 1, "entry must have filled at this bar's open")
			st.rt.Exit(positions[0].ID, "exit")
		}
		return nil
	}

	res, err := k.Run(baseConfig(st, g, "2024-01-02", "2024-01-04"))
	require.NoError(t, err)

	// Fill at the 110 open, exit at the 125 open: 15 * (1000/110).
	require.Len(t, res.TradeLog, 1)
	e := res.TradeLog[0]
	assert.Equal(t, "2024-01-03", e.OpenTime)
	assert.Equal(t, "2024-01-04", e.CloseTime)
	assert.InDelta(t, 136.36, e.Profit, 0.01)
	assert.InDelta(t, 1136.36, toFloat(res.FinalEquity()), 0.01)
	assert.InDelta(t, 136.36, res.Stats.NetProfit, 0.01)
	assert.Equal(t, "2024-01-04", res.LastProcessedDate)
}

func TestLookbackGatesEvents(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := groupOf("AAA",
		ohlc("2024-01-02", 100, 100),
		ohlc("2024-01-03", 101, 101),
		ohlc("2024-01-04", 102, 102),
		ohlc("2024-01-05", 103, 103),
	)

	var seen []string
	st := newHook(2)
	st.onClose = func(_ *series.Group, date string) error {
		seen = append(seen, date)
		return nil
	}

	_, err := k.Run(baseConfig(st, g, "2024-01-02", "2024-01-05"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-04", "2024-01-05"}, seen)
}

func TestEndOfRunForceClosesPositions(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := groupOf("AAA",
		ohlc("2024-01-02", 100, 105),
		ohlc("2024-01-03", 110, 120),
	)

	st := newHook(0)
	st.onClose = func(_ *series.Group, date string) error {
		if date == "2024-01-02" {
			st.rt.Entry(domain.Long, "AAA", 1, "")
		}
		return nil
	}

	res, err := k.Run(baseConfig(st, g, "2024-01-02", "2024-01-03"))
	require.NoError(t, err)

	assert.Empty(t, res.Ledger.OpenPositions())
	// Closed at the final 120 close: 10 * (1000/110).
	assert.InDelta(t, 90.91, res.Stats.NetProfit, 0.01)
	assert.Equal(t, 1, res.Stats.TotalTransactions)
}

func TestKeepOpenAtEnd(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := groupOf("AAA",
		ohlc("2024-01-02", 100, 105),
		ohlc("2024-01-03", 110, 120),
	)

	st := newHook(0)
	st.onClose = func(_ *series.Group, date string) error {
		if date == "2024-01-02" {
			st.rt.Entry(domain.Long, "AAA", 1, "")
		}
		return nil
	}

	cfg := baseConfig(st, g, "2024-01-02", "2024-01-03")
	cfg.KeepOpenAtEnd = true
	res, err := k.Run(cfg)
	require.NoError(t, err)

	require.Len(t, res.Ledger.OpenPositions(), 1)
	assert.Empty(t, res.TradeLog)
	// Marked at the 120 close, still unrealized.
	assert.InDelta(t, 1090.91, toFloat(res.FinalEquity()), 0.01)
}

func TestStepFromSuppressesProcessedDates(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := groupOf("AAA",
		ohlc("2024-01-02", 100, 100),
		ohlc("2024-01-03", 101, 101),
		ohlc("2024-01-04", 102, 102),
	)

	var seen []string
	st := newHook(0)
	st.onClose = func(_ *series.Group, date string) error {
		seen = append(seen, date)
		return nil
	}

	cfg := baseConfig(st, g, "2024-01-02", "2024-01-04")
	cfg.StepFrom = "2024-01-03"
	cfg.KeepOpenAtEnd = true
	res, err := k.Run(cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-04"}, seen)
	require.Len(t, res.Capital, 1, "warmup dates must not snapshot equity")
	assert.Equal(t, "2024-01-04", res.Capital[0].Date)
}

func TestRestoreReinstatesLedgerState(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := groupOf("AAA", ohlc("2024-01-03", 70, 80))

	st := newHook(0)
	cfg := baseConfig(st, g, "2024-01-03", "2024-01-03")
	cfg.KeepOpenAtEnd = true
	cfg.Restore = &RestoreState{
		Cash: decimal.NewFromInt(400),
		Positions: []*ledger.Position{{
			ID: "pos-1", Ticker: "AAA", Side: domain.Long,
			OpenPrice: decimal.NewFromInt(60), Quantity: decimal.NewFromInt(10),
			OpenSize: decimal.NewFromInt(600), CurrentPrice: decimal.NewFromInt(60),
			Status: ledger.StatusOpen, OpenDate: "2024-01-02",
		}},
	}

	res, err := k.Run(cfg)
	require.NoError(t, err)

	require.Len(t, res.Ledger.OpenPositions(), 1)
	// 400 cash plus 10 shares marked at the 80 close.
	assert.InDelta(t, 1200.0, toFloat(res.FinalEquity()), 1e-9)
}

func TestBarEndHookRunsPerProcessedDate(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := groupOf("AAA",
		ohlc("2024-01-02", 100, 100),
		ohlc("2024-01-03", 101, 101),
	)

	var calls []string
	cfg := baseConfig(newHook(0), g, "2024-01-02", "2024-01-03")
	cfg.BarEnd = func(barIndex, totalBars int, date string) error {
		assert.Equal(t, 2, totalBars)
		calls = append(calls, date)
		return nil
	}
	_, err := k.Run(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02", "2024-01-03"}, calls)
}

func TestBarEndErrorAbortsRun(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := groupOf("AAA",
		ohlc("2024-01-02", 100, 100),
		ohlc("2024-01-03", 101, 101),
	)

	boom := errors.New("disk full")
	cfg := baseConfig(newHook(0), g, "2024-01-02", "2024-01-03")
	cfg.BarEnd = func(_, _ int, date string) error {
		if date == "2024-01-02" {
			return boom
		}
		return nil
	}

	res, err := k.Run(cfg)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, res, "failed runs keep state at the point of failure")
}

func TestStrategyErrorBecomesStrategyFault(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := groupOf("AAA", ohlc("2024-01-02", 100, 100))

	st := newHook(0)
	st.onClose = func(_ *series.Group, _ string) error {
		return errors.New("divide by zero")
	}

	res, err := k.Run(baseConfig(st, g, "2024-01-02", "2024-01-02"))
	assert.True(t, domain.IsKind(err, domain.StrategyFault), "got %v", err)
	require.NotNil(t, res)
	assert.NotNil(t, res.Metrics)
}

func TestWeeklyResolutionKeepsLastDayPerWeek(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := groupOf("AAA",
		ohlc("2024-01-02", 100, 100), // Tue, week 1
		ohlc("2024-01-03", 101, 101),
		ohlc("2024-01-05", 102, 102), // Fri, last of week 1
		ohlc("2024-01-08", 103, 103), // Mon, week 2
		ohlc("2024-01-09", 104, 104),
	)

	var seen []string
	st := newHook(0)
	st.onClose = func(_ *series.Group, date string) error {
		seen = append(seen, date)
		return nil
	}

	cfg := baseConfig(st, g, "2024-01-02", "2024-01-09")
	cfg.Resolution = domain.Weekly
	_, err := k.Run(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-05", "2024-01-09"}, seen)
}

func TestOpenSignalRequeuesUntilTickerTrades(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := series.NewGroup()
	g.Add(series.NewAsset("AAA", "", []domain.Bar{
		ohlc("2024-01-02", 100, 100),
		ohlc("2024-01-03", 100, 100),
		ohlc("2024-01-04", 100, 100),
		ohlc("2024-01-05", 100, 100),
	}))
	g.Add(series.NewAsset("BBB", "", []domain.Bar{
		ohlc("2024-01-02", 50, 50),
		ohlc("2024-01-05", 60, 62),
	}))

	st := newHook(0)
	st.onClose = func(_ *series.Group, date string) error {
		if date == "2024-01-02" {
			st.rt.Entry(domain.Long, "BBB", 1, "")
		}
		return nil
	}

	cfg := baseConfig(st, g, "2024-01-02", "2024-01-05")
	cfg.KeepOpenAtEnd = true
	res, err := k.Run(cfg)
	require.NoError(t, err)

	positions := res.Ledger.OpenPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "2024-01-05", positions[0].OpenDate, "fill waits for the ticker's next traded open")
	assert.True(t, positions[0].OpenPrice.Equal(decimal.NewFromInt(60)))
}

func TestBenchmarkOverlayForwardFills(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	g := groupOf("AAA",
		ohlc("2024-01-02", 100, 100),
		ohlc("2024-01-03", 101, 101),
		ohlc("2024-01-04", 102, 102),
	)
	bench := series.NewAsset("SPY", "", []domain.Bar{
		ohlc("2024-01-02", 400, 400),
		ohlc("2024-01-04", 440, 440),
	})

	cfg := baseConfig(newHook(0), g, "2024-01-02", "2024-01-04")
	cfg.Benchmark = bench
	res, err := k.Run(cfg)
	require.NoError(t, err)

	require.Len(t, res.Benchmark, 3)
	assert.InDelta(t, 0.0, res.Benchmark[0].Percent, 1e-9)
	assert.InDelta(t, 0.0, res.Benchmark[1].Percent, 1e-9, "missing benchmark day forward-fills")
	assert.InDelta(t, 10.0, res.Benchmark[2].Percent, 1e-9)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
