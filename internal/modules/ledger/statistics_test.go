package ledger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramidis/strategem/internal/domain"
)

// trade opens and immediately closes one long position at the given prices.
func trade(t *testing.T, led *Ledger, openPrice, closePrice float64) {
	t.Helper()
	p, err := led.OpenPosition(domain.Long, "AAA", dec(openPrice), dec(1), "2024-01-02", "")
	require.NoError(t, err)
	_, err = led.ClosePosition(p.ID, dec(closePrice), "2024-01-03", "")
	require.NoError(t, err)
}

func TestComputeBasicCounts(t *testing.T) {
	led := newTestLedger(10000)
	trade(t, led, 100, 110) // +10
	trade(t, led, 100, 95)  // -5
	trade(t, led, 100, 100) // break-even
	trade(t, led, 100, 120) // +20

	s := led.Compute()
	assert.Equal(t, 4, s.TotalTransactions)
	assert.Equal(t, 2, s.ProfitableTransactions)
	assert.Equal(t, 1, s.LosingTransactions)
	assert.Equal(t, 1, s.BreakEvenTransactions)
	assert.InDelta(t, 25.0, s.NetProfit, 1e-9)
	assert.InDelta(t, 30.0, s.GrossProfit, 1e-9)
	assert.InDelta(t, 5.0, s.GrossLoss, 1e-9)
	assert.InDelta(t, 6.0, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 20.0, s.LargestWin, 1e-9)
	assert.InDelta(t, 5.0, s.LargestLoss, 1e-9)
}

func TestWinRateExcludesBreakEven(t *testing.T) {
	led := newTestLedger(10000)
	trade(t, led, 100, 110)
	trade(t, led, 100, 100)
	trade(t, led, 100, 100)
	trade(t, led, 100, 90)

	s := led.Compute()
	// 1 win, 1 loss; the two break-even trades count in neither side.
	assert.InDelta(t, 50.0, s.WinRate, 1e-9)
}

func TestProfitFactorCapWithoutLosses(t *testing.T) {
	led := newTestLedger(10000)
	trade(t, led, 100, 110)
	trade(t, led, 100, 105)

	s := led.Compute()
	assert.Equal(t, ProfitFactorCap, s.ProfitFactor)
}

func TestProfitFactorZeroWithoutTrades(t *testing.T) {
	led := newTestLedger(10000)
	s := led.Compute()
	assert.Zero(t, s.ProfitFactor)
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.TotalTransactions)
}

func TestConsecutiveRuns(t *testing.T) {
	led := newTestLedger(10000)
	trade(t, led, 100, 110)
	trade(t, led, 100, 110)
	trade(t, led, 100, 110)
	trade(t, led, 100, 90)
	trade(t, led, 100, 90)
	trade(t, led, 100, 100) // break-even resets both runs
	trade(t, led, 100, 90)

	s := led.Compute()
	assert.Equal(t, 3, s.MaxConsecutiveWins)
	assert.Equal(t, 2, s.MaxConsecutiveLosses)
}

func TestShortGrossSplit(t *testing.T) {
	led := newTestLedger(10000)
	p, err := led.OpenPosition(domain.Short, "BBB", dec(100), dec(1), "2024-01-02", "")
	require.NoError(t, err)
	_, err = led.ClosePosition(p.ID, dec(90), "2024-01-03", "")
	require.NoError(t, err)
	trade(t, led, 100, 110)

	s := led.Compute()
	assert.InDelta(t, 10.0, s.GrossProfitShort, 1e-9)
	assert.InDelta(t, 10.0, s.GrossProfitLong, 1e-9)
	assert.Zero(t, s.GrossLossShort)
}

func TestToMapRoundTrip(t *testing.T) {
	led := newTestLedger(1000)
	trade(t, led, 100, 110)
	led.SnapshotEquity("2024-01-03")

	m := led.Compute().ToMap()
	assert.InDelta(t, 10.0, m["net_profit"], 1e-9)
	assert.InDelta(t, 1.0, m["net_profit_percent"], 1e-9)
	assert.InDelta(t, 100.0, m["win_rate"], 1e-9)
	assert.Equal(t, 1.0, m["total_transactions"])
	_, ok := m["max_drawdown_percent"]
	assert.True(t, ok)
}

func TestAverageBarsHeld(t *testing.T) {
	led := New(decimal.NewFromInt(10000), zerolog.Nop())
	led.SetBarIndex(0)
	p, err := led.OpenPosition(domain.Long, "AAA", dec(100), dec(1), "2024-01-02", "")
	require.NoError(t, err)
	led.SetBarIndex(4)
	_, err = led.ClosePosition(p.ID, dec(105), "2024-01-08", "")
	require.NoError(t, err)

	s := led.Compute()
	assert.InDelta(t, 4.0, s.AverageBarsHeld, 1e-9)
}
