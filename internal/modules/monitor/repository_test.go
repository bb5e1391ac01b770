package monitor

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/avramidis/strategem/internal/database"
	"github.com/avramidis/strategem/internal/domain"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "monitors.db"),
		Profile: database.ProfileLedger,
		Name:    "monitors",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db.Conn(), zerolog.Nop())
}

func sampleMonitor() *domain.Monitor {
	return &domain.Monitor{
		Name:               "forward aapl",
		StrategyClass:      "sma-cross",
		StrategyParameters: map[string]interface{}{"fast": 10.0},
		TickerIDs:          []int64{1},
		StartDate:          "2024-01-02",
		InitialCapital:     10000,
	}
}

func TestMonitorCreateDefaults(t *testing.T) {
	repo := testRepo(t)

	id, err := repo.Create(sampleMonitor())
	require.NoError(t, err)

	got, err := repo.Get(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.MonitorInitializing, got.Status)
	assert.Equal(t, "pending", got.BacktestStatus)
	assert.Zero(t, got.BacktestProgress)
	assert.Nil(t, got.LastProcessedDate)
	assert.Equal(t, "2024-01-02", got.StartDate)
}

func TestMonitorGetMissingReturnsNil(t *testing.T) {
	repo := testRepo(t)
	got, err := repo.Get(7)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMonitorStatusAndCursor(t *testing.T) {
	repo := testRepo(t)
	id, err := repo.Create(sampleMonitor())
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(id, domain.MonitorActive))
	require.NoError(t, repo.UpdateLastProcessed(id, "2024-03-15"))

	got, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.MonitorActive, got.Status)
	require.NotNil(t, got.LastProcessedDate)
	assert.Equal(t, "2024-03-15", *got.LastProcessedDate)

	active, err := repo.ListByStatus(domain.MonitorActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)

	stopped, err := repo.ListByStatus(domain.MonitorStopped)
	require.NoError(t, err)
	assert.Empty(t, stopped)
}

func TestMonitorBacktestProgress(t *testing.T) {
	repo := testRepo(t)
	id, err := repo.Create(sampleMonitor())
	require.NoError(t, err)

	require.NoError(t, repo.UpdateBacktestProgress(id, 40, "running", "2024-02-15"))
	got, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 40, got.BacktestProgress)
	assert.Equal(t, "running", got.BacktestStatus)
	require.NotNil(t, got.BacktestCurrentDate)
	assert.Equal(t, "2024-02-15", *got.BacktestCurrentDate)

	require.NoError(t, repo.UpdateBacktestError(id, "no quote data loaded"))
	got, err = repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.BacktestStatus)
	require.NotNil(t, got.BacktestError)
	assert.Equal(t, "no quote data loaded", *got.BacktestError)
}

func TestSnapshotSaveIsIdempotentPerDate(t *testing.T) {
	repo := testRepo(t)
	id, err := repo.Create(sampleMonitor())
	require.NoError(t, err)

	vars, err := msgpack.Marshal(map[string]interface{}{"armed": true})
	require.NoError(t, err)

	snap := &domain.Snapshot{
		MonitorID: id,
		Date:      "2024-03-15",
		Equity:    "10100.50",
		Cash:      "100.50",
		Positions: []domain.SnapshotPosition{{
			ID: "pos-1", Ticker: "AAPL", Side: domain.Long,
			OpenPrice: "180.25", Quantity: "55.5", OpenDate: "2024-03-01",
		}},
		PendingSignals: []domain.SnapshotSignal{{
			Side: domain.Long, Ticker: "AAPL", CashFraction: 1, Comment: "enter",
		}},
		StrategyVariables: vars,
		DailyReturn:       0.4,
		CumulativeReturn:  1.0,
	}
	require.NoError(t, repo.SaveSnapshot(snap))

	// Replaying the same date overwrites instead of duplicating.
	snap.Equity = "10200.00"
	require.NoError(t, repo.SaveSnapshot(snap))

	all, err := repo.GetSnapshots(id, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "10200.00", all[0].Equity)
	require.Len(t, all[0].Positions, 1)
	assert.Equal(t, "180.25", all[0].Positions[0].OpenPrice)
	require.Len(t, all[0].PendingSignals, 1)
	assert.Equal(t, "AAPL", all[0].PendingSignals[0].Ticker)
	assert.Equal(t, 1.0, all[0].PendingSignals[0].CashFraction)

	var restored map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(all[0].StrategyVariables, &restored))
	assert.Equal(t, true, restored["armed"])
}

func TestLatestSnapshotOrdering(t *testing.T) {
	repo := testRepo(t)
	id, err := repo.Create(sampleMonitor())
	require.NoError(t, err)

	none, err := repo.GetLatestSnapshot(id)
	require.NoError(t, err)
	assert.Nil(t, none)

	for _, d := range []string{"2024-03-13", "2024-03-15", "2024-03-14"} {
		require.NoError(t, repo.SaveSnapshot(&domain.Snapshot{
			MonitorID: id, Date: d, Equity: "10000", Cash: "10000",
		}))
	}

	latest, err := repo.GetLatestSnapshot(id)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "2024-03-15", latest.Date)

	two, err := repo.GetSnapshots(id, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, "2024-03-15", two[0].Date, "newest first")
	assert.Equal(t, "2024-03-14", two[1].Date)
}

func TestTradeRoundTrip(t *testing.T) {
	repo := testRepo(t)
	id, err := repo.Create(sampleMonitor())
	require.NoError(t, err)

	require.NoError(t, repo.SaveTrade(id, &domain.TradeLogEntry{
		Ticker: "AAPL", Side: domain.Long,
		OpenTime: "2024-03-10", CloseTime: "2024-03-15",
		OpenPrice: 180, ClosePrice: 190, Quantity: 10,
		Profit: 100, ProfitPercent: 5.55, BalanceAfter: 10100,
		PositionDrawdownValue: 20, PositionDrawdownPercent: 1.1,
		Comment: "exit",
	}))
	require.NoError(t, repo.SaveTrade(id, &domain.TradeLogEntry{
		Ticker: "AAPL", Side: domain.Short,
		OpenTime: "2024-03-01", CloseTime: "2024-03-05",
		OpenPrice: 170, ClosePrice: 165, Quantity: 5,
		Profit: 25,
	}))

	trades, err := repo.GetTrades(id)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "2024-03-05", trades[0].CloseTime, "oldest close first")
	assert.Equal(t, domain.Short, trades[0].Side)
	assert.Equal(t, 100.0, trades[1].Profit)
	assert.Equal(t, "exit", trades[1].Comment)
}

func TestMetricsUpsertPerKind(t *testing.T) {
	repo := testRepo(t)
	id, err := repo.Create(sampleMonitor())
	require.NoError(t, err)

	none, err := repo.GetMetrics(id, domain.MetricForward)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, repo.SaveMetrics(id, domain.MetricBacktest, map[string]float64{"net_profit": 50}))
	require.NoError(t, repo.SaveMetrics(id, domain.MetricForward, map[string]float64{"net_profit": 5}))
	require.NoError(t, repo.SaveMetrics(id, domain.MetricForward, map[string]float64{"net_profit": 7}))

	backtest, err := repo.GetMetrics(id, domain.MetricBacktest)
	require.NoError(t, err)
	assert.Equal(t, 50.0, backtest["net_profit"])

	forward, err := repo.GetMetrics(id, domain.MetricForward)
	require.NoError(t, err)
	assert.Equal(t, 7.0, forward["net_profit"], "re-saving a kind replaces it")
}
