// Package monitor runs strategies in forward-test mode: an initial backtest
// establishes state, then each trading day is advanced exactly once and
// persisted as a snapshot.
package monitor

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/utils"
)

// Repository implements domain.MonitorRepo over SQLite. Open position lists
// and strategy variables are msgpack blobs; metric maps are JSON.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a monitor repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "monitor_repo").Logger(),
	}
}

const monitorColumns = `id, name, strategy_class, strategy_parameters, ticker_ids,
	start_date, initial_capital, status, last_processed_date, backtest_progress,
	backtest_status, backtest_error, backtest_current_date, created_at`

// Create inserts a monitor in initializing state and returns its id.
func (r *Repository) Create(m *domain.Monitor) (int64, error) {
	if m.StrategyClass == "" {
		return 0, domain.NewError(domain.InvalidInput, "monitor requires a strategy class")
	}
	params, err := json.Marshal(orEmptyMap(m.StrategyParameters))
	if err != nil {
		return 0, fmt.Errorf("failed to encode strategy parameters: %w", err)
	}
	tickers, err := json.Marshal(orEmptyIDs(m.TickerIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to encode ticker ids: %w", err)
	}
	startUnix, err := utils.DateToUnix(m.StartDate)
	if err != nil {
		return 0, domain.WrapError(domain.InvalidInput, err, "monitor start date")
	}
	if m.Status == "" {
		m.Status = domain.MonitorInitializing
	}
	if m.BacktestStatus == "" {
		m.BacktestStatus = "pending"
	}

	res, err := r.db.Exec(`
		INSERT INTO monitors (name, strategy_class, strategy_parameters, ticker_ids,
			start_date, initial_capital, status, backtest_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.Name, m.StrategyClass, string(params), string(tickers),
		startUnix, m.InitialCapital, string(m.Status), m.BacktestStatus, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert monitor: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read monitor id: %w", err)
	}
	m.ID = id
	r.log.Info().Int64("monitor_id", id).Str("strategy", m.StrategyClass).Msg("Created monitor")
	return id, nil
}

// Get returns one monitor by id, or nil when not found.
func (r *Repository) Get(id int64) (*domain.Monitor, error) {
	monitors, err := r.query(fmt.Sprintf("SELECT %s FROM monitors WHERE id = ?", monitorColumns), id)
	if err != nil {
		return nil, err
	}
	if len(monitors) == 0 {
		return nil, nil
	}
	return &monitors[0], nil
}

// ListByStatus returns monitors in the given lifecycle state, oldest first.
func (r *Repository) ListByStatus(status domain.MonitorStatus) ([]domain.Monitor, error) {
	return r.query(fmt.Sprintf(
		"SELECT %s FROM monitors WHERE status = ? ORDER BY id", monitorColumns), string(status))
}

// UpdateStatus transitions the monitor lifecycle state.
func (r *Repository) UpdateStatus(id int64, status domain.MonitorStatus) error {
	if _, err := r.db.Exec(`UPDATE monitors SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return fmt.Errorf("failed to update monitor %d status: %w", id, err)
	}
	return nil
}

// UpdateLastProcessed advances the idempotence cursor.
func (r *Repository) UpdateLastProcessed(id int64, date string) error {
	unix, err := utils.DateToUnix(date)
	if err != nil {
		return domain.WrapError(domain.InvalidInput, err, "last processed date")
	}
	if _, err := r.db.Exec(`UPDATE monitors SET last_processed_date = ? WHERE id = ?`, unix, id); err != nil {
		return fmt.Errorf("failed to update monitor %d cursor: %w", id, err)
	}
	return nil
}

// UpdateBacktestProgress records initial-backtest progress for observers.
func (r *Repository) UpdateBacktestProgress(id int64, progress int, backtestStatus, currentDate string) error {
	var current interface{}
	if currentDate != "" {
		unix, err := utils.DateToUnix(currentDate)
		if err != nil {
			return domain.WrapError(domain.InvalidInput, err, "backtest current date")
		}
		current = unix
	}
	_, err := r.db.Exec(`
		UPDATE monitors SET backtest_progress = ?, backtest_status = ?, backtest_current_date = ?
		WHERE id = ?
	`, progress, backtestStatus, current, id)
	if err != nil {
		return fmt.Errorf("failed to update monitor %d backtest progress: %w", id, err)
	}
	return nil
}

// UpdateBacktestError records an initial-backtest failure.
func (r *Repository) UpdateBacktestError(id int64, message string) error {
	_, err := r.db.Exec(`
		UPDATE monitors SET backtest_status = 'failed', backtest_error = ? WHERE id = ?
	`, message, id)
	if err != nil {
		return fmt.Errorf("failed to store monitor %d backtest error: %w", id, err)
	}
	return nil
}

// SaveSnapshot upserts the end-of-bar state for one date. Re-saving the same
// (monitor, date) replaces the row, so replays are idempotent.
func (r *Repository) SaveSnapshot(s *domain.Snapshot) error {
	unix, err := utils.DateToUnix(s.Date)
	if err != nil {
		return domain.WrapError(domain.InvalidInput, err, "snapshot date")
	}
	positions, err := msgpack.Marshal(orEmptyPositions(s.Positions))
	if err != nil {
		return fmt.Errorf("failed to encode snapshot positions: %w", err)
	}
	signals, err := msgpack.Marshal(orEmptySignals(s.PendingSignals))
	if err != nil {
		return fmt.Errorf("failed to encode snapshot pending signals: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO monitor_snapshots
			(monitor_id, date, equity, cash, positions, pending_signals,
			 strategy_variables, daily_return, cumulative_return, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.MonitorID, unix, s.Equity, s.Cash, positions, signals, s.StrategyVariables,
		s.DailyReturn, s.CumulativeReturn, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save snapshot for monitor %d on %s: %w", s.MonitorID, s.Date, err)
	}
	return nil
}

// GetLatestSnapshot returns the most recent snapshot, or nil when none exist.
func (r *Repository) GetLatestSnapshot(monitorID int64) (*domain.Snapshot, error) {
	snaps, err := r.querySnapshots(`
		SELECT monitor_id, date, equity, cash, positions, pending_signals,
			strategy_variables, daily_return, cumulative_return
		FROM monitor_snapshots WHERE monitor_id = ?
		ORDER BY date DESC LIMIT 1
	`, monitorID)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// GetSnapshots returns the most recent snapshots, newest first. limit <= 0
// returns all.
func (r *Repository) GetSnapshots(monitorID int64, limit int) ([]domain.Snapshot, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats negative LIMIT as unlimited
	}
	return r.querySnapshots(`
		SELECT monitor_id, date, equity, cash, positions, pending_signals,
			strategy_variables, daily_return, cumulative_return
		FROM monitor_snapshots WHERE monitor_id = ?
		ORDER BY date DESC LIMIT ?
	`, monitorID, limit)
}

// SaveTrade appends one closed trade.
func (r *Repository) SaveTrade(monitorID int64, t *domain.TradeLogEntry) error {
	openUnix, err := utils.DateToUnix(t.OpenTime)
	if err != nil {
		return domain.WrapError(domain.InvalidInput, err, "trade open time")
	}
	closeUnix, err := utils.DateToUnix(t.CloseTime)
	if err != nil {
		return domain.WrapError(domain.InvalidInput, err, "trade close time")
	}
	_, err = r.db.Exec(`
		INSERT INTO monitor_trades (monitor_id, ticker, side, open_time, close_time,
			open_price, close_price, quantity, profit, profit_percent, balance_after,
			drawdown_value, drawdown_percent, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, monitorID, t.Ticker, string(t.Side), openUnix, closeUnix,
		t.OpenPrice, t.ClosePrice, t.Quantity, t.Profit, t.ProfitPercent, t.BalanceAfter,
		t.PositionDrawdownValue, t.PositionDrawdownPercent, t.Comment, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save trade for monitor %d: %w", monitorID, err)
	}
	return nil
}

// GetTrades returns all trades of a monitor, oldest close first.
func (r *Repository) GetTrades(monitorID int64) ([]domain.TradeLogEntry, error) {
	rows, err := r.db.Query(`
		SELECT ticker, side, open_time, close_time, open_price, close_price,
			quantity, profit, profit_percent, balance_after, drawdown_value,
			drawdown_percent, comment
		FROM monitor_trades WHERE monitor_id = ?
		ORDER BY close_time, id
	`, monitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for monitor %d: %w", monitorID, err)
	}
	defer rows.Close()

	var out []domain.TradeLogEntry
	for rows.Next() {
		var t domain.TradeLogEntry
		var side string
		var openUnix, closeUnix int64
		if err := rows.Scan(&t.Ticker, &side, &openUnix, &closeUnix, &t.OpenPrice,
			&t.ClosePrice, &t.Quantity, &t.Profit, &t.ProfitPercent, &t.BalanceAfter,
			&t.PositionDrawdownValue, &t.PositionDrawdownPercent, &t.Comment); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.Side = domain.Side(side)
		t.OpenTime = utils.UnixToDate(openUnix)
		t.CloseTime = utils.UnixToDate(closeUnix)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return out, nil
}

// SaveMetrics upserts the metric map for one kind.
func (r *Repository) SaveMetrics(monitorID int64, kind domain.MetricKind, metrics map[string]float64) error {
	encoded, err := json.Marshal(orEmptyMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO monitor_metrics (monitor_id, kind, metrics, updated_at)
		VALUES (?, ?, ?, ?)
	`, monitorID, string(kind), string(encoded), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save %s metrics for monitor %d: %w", kind, monitorID, err)
	}
	return nil
}

// GetMetrics returns the metric map for one kind, or nil when absent.
func (r *Repository) GetMetrics(monitorID int64, kind domain.MetricKind) (map[string]float64, error) {
	var encoded string
	err := r.db.QueryRow(`
		SELECT metrics FROM monitor_metrics WHERE monitor_id = ? AND kind = ?
	`, monitorID, string(kind)).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s metrics for monitor %d: %w", kind, monitorID, err)
	}
	var out map[string]float64
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		return nil, fmt.Errorf("failed to decode metrics for monitor %d: %w", monitorID, err)
	}
	return out, nil
}

func (r *Repository) query(q string, args ...interface{}) ([]domain.Monitor, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitors: %w", err)
	}
	defer rows.Close()

	var out []domain.Monitor
	for rows.Next() {
		var m domain.Monitor
		var params, tickers, status, backtestStatus string
		var startUnix, created int64
		var lastProcessed, backtestCurrent sql.NullInt64
		var backtestErr sql.NullString
		if err := rows.Scan(&m.ID, &m.Name, &m.StrategyClass, &params, &tickers,
			&startUnix, &m.InitialCapital, &status, &lastProcessed, &m.BacktestProgress,
			&backtestStatus, &backtestErr, &backtestCurrent, &created); err != nil {
			return nil, fmt.Errorf("failed to scan monitor row: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &m.StrategyParameters); err != nil {
			return nil, fmt.Errorf("failed to decode monitor %d parameters: %w", m.ID, err)
		}
		if err := json.Unmarshal([]byte(tickers), &m.TickerIDs); err != nil {
			return nil, fmt.Errorf("failed to decode monitor %d ticker ids: %w", m.ID, err)
		}
		m.StartDate = utils.UnixToDate(startUnix)
		m.Status = domain.MonitorStatus(status)
		m.BacktestStatus = backtestStatus
		m.CreatedAt = time.Unix(created, 0).UTC()
		if lastProcessed.Valid {
			d := utils.UnixToDate(lastProcessed.Int64)
			m.LastProcessedDate = &d
		}
		if backtestCurrent.Valid {
			d := utils.UnixToDate(backtestCurrent.Int64)
			m.BacktestCurrentDate = &d
		}
		if backtestErr.Valid {
			m.BacktestError = &backtestErr.String
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating monitors: %w", err)
	}
	return out, nil
}

func (r *Repository) querySnapshots(q string, args ...interface{}) ([]domain.Snapshot, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		var s domain.Snapshot
		var unix int64
		var positions, signals []byte
		if err := rows.Scan(&s.MonitorID, &unix, &s.Equity, &s.Cash, &positions, &signals,
			&s.StrategyVariables, &s.DailyReturn, &s.CumulativeReturn); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		s.Date = utils.UnixToDate(unix)
		if len(positions) > 0 {
			if err := msgpack.Unmarshal(positions, &s.Positions); err != nil {
				return nil, fmt.Errorf("failed to decode snapshot positions: %w", err)
			}
		}
		if len(signals) > 0 {
			if err := msgpack.Unmarshal(signals, &s.PendingSignals); err != nil {
				return nil, fmt.Errorf("failed to decode snapshot pending signals: %w", err)
			}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return out, nil
}

func orEmptyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func orEmptyIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func orEmptyMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func orEmptyPositions(ps []domain.SnapshotPosition) []domain.SnapshotPosition {
	if ps == nil {
		return []domain.SnapshotPosition{}
	}
	return ps
}

func orEmptySignals(ss []domain.SnapshotSignal) []domain.SnapshotSignal {
	if ss == nil {
		return []domain.SnapshotSignal{}
	}
	return ss
}
