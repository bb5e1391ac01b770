// Package runs persists backtest run records: lifecycle status, appended
// log output and the terminal result metrics and report.
package runs

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/utils"
)

// Repository implements domain.RunRepo over SQLite. Parameter maps and
// ticker lists are stored as JSON columns.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a run repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "run_repo").Logger(),
	}
}

const runColumns = `id, name, strategy_class, strategy_parameters, ticker_ids,
	benchmark_ticker_id, start_date, end_date, initial_capital, is_optimization,
	optimization_params, status, pid, created_at, started_at, completed_at,
	execution_seconds, log_output, report_blob, result_metrics, error_message`

// Create inserts a pending run record and returns its id.
func (r *Repository) Create(run *domain.Run) (int64, error) {
	if run.StrategyClass == "" {
		return 0, domain.NewError(domain.InvalidInput, "run requires a strategy class")
	}
	params, err := json.Marshal(orEmptyMap(run.StrategyParameters))
	if err != nil {
		return 0, fmt.Errorf("failed to encode strategy parameters: %w", err)
	}
	tickers, err := json.Marshal(orEmptyIDs(run.TickerIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to encode ticker ids: %w", err)
	}
	optParams, err := json.Marshal(orEmptyOpt(run.OptimizationParams))
	if err != nil {
		return 0, fmt.Errorf("failed to encode optimization params: %w", err)
	}
	startUnix, err := utils.DateToUnix(run.StartDate)
	if err != nil {
		return 0, domain.WrapError(domain.InvalidInput, err, "run start date")
	}
	endUnix, err := utils.DateToUnix(run.EndDate)
	if err != nil {
		return 0, domain.WrapError(domain.InvalidInput, err, "run end date")
	}
	if run.Status == "" {
		run.Status = domain.RunPending
	}

	res, err := r.db.Exec(`
		INSERT INTO runs (name, strategy_class, strategy_parameters, ticker_ids,
			benchmark_ticker_id, start_date, end_date, initial_capital,
			is_optimization, optimization_params, status, pid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Name, run.StrategyClass, string(params), string(tickers),
		run.BenchmarkTickerID, startUnix, endUnix, run.InitialCapital,
		boolToInt(run.IsOptimization), string(optParams), string(run.Status),
		run.PID, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	run.ID = id
	r.log.Info().Int64("run_id", id).Str("strategy", run.StrategyClass).Msg("Created run record")
	return id, nil
}

// Get returns one run by id, or nil when not found.
func (r *Repository) Get(id int64) (*domain.Run, error) {
	runs, err := r.query(fmt.Sprintf("SELECT %s FROM runs WHERE id = ?", runColumns), id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// GetByStrategy returns the most recent runs of one strategy class.
func (r *Repository) GetByStrategy(strategyClass string, limit int) ([]domain.Run, error) {
	return r.query(fmt.Sprintf(
		"SELECT %s FROM runs WHERE strategy_class = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		runColumns), strategyClass, limit)
}

// GetRecent returns the most recent runs regardless of strategy.
func (r *Repository) GetRecent(limit int) ([]domain.Run, error) {
	return r.query(fmt.Sprintf(
		"SELECT %s FROM runs ORDER BY created_at DESC, id DESC LIMIT ?", runColumns), limit)
}

// UpdateStatus transitions a run's lifecycle state and records the handling
// pid. Moving to running stamps started_at; terminal states stamp completed_at.
func (r *Repository) UpdateStatus(id int64, status domain.RunStatus, pid int) error {
	now := time.Now().Unix()
	var err error
	switch status {
	case domain.RunRunning:
		_, err = r.db.Exec(`UPDATE runs SET status = ?, pid = ?, started_at = ? WHERE id = ?`,
			string(status), pid, now, id)
	case domain.RunCompleted, domain.RunFailed:
		_, err = r.db.Exec(`UPDATE runs SET status = ?, pid = ?, completed_at = ? WHERE id = ?`,
			string(status), pid, now, id)
	default:
		_, err = r.db.Exec(`UPDATE runs SET status = ?, pid = ? WHERE id = ?`,
			string(status), pid, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update run %d status: %w", id, err)
	}
	return nil
}

// UpdateResults stores the terminal metrics and report, marking the run
// completed.
func (r *Repository) UpdateResults(id int64, metrics map[string]float64, report []byte, executionSeconds float64) error {
	encoded, err := json.Marshal(orEmptyMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to encode result metrics: %w", err)
	}
	_, err = r.db.Exec(`
		UPDATE runs SET status = ?, result_metrics = ?, report_blob = ?,
			execution_seconds = ?, completed_at = ?
		WHERE id = ?
	`, string(domain.RunCompleted), string(encoded), report, executionSeconds, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to store run %d results: %w", id, err)
	}
	r.log.Info().Int64("run_id", id).Float64("execution_seconds", executionSeconds).
		Msg("Stored run results")
	return nil
}

// UpdateError marks a run failed with its error message.
func (r *Repository) UpdateError(id int64, message string) error {
	_, err := r.db.Exec(`
		UPDATE runs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?
	`, string(domain.RunFailed), message, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to store run %d error: %w", id, err)
	}
	return nil
}

// AppendLog appends captured subprocess output to the run's log buffer.
func (r *Repository) AppendLog(id int64, lines string) error {
	if lines == "" {
		return nil
	}
	_, err := r.db.Exec(`UPDATE runs SET log_output = log_output || ? WHERE id = ?`, lines, id)
	if err != nil {
		return fmt.Errorf("failed to append run %d log: %w", id, err)
	}
	return nil
}

// Stale returns runs stuck in the given status longer than the cutoff. A
// pending run ages from creation; a running run ages from its start.
func (r *Repository) Stale(status domain.RunStatus, olderThanSeconds int64) ([]domain.Run, error) {
	cutoff := time.Now().Unix() - olderThanSeconds
	ageColumn := "created_at"
	if status == domain.RunRunning {
		ageColumn = "COALESCE(started_at, created_at)"
	}
	return r.query(fmt.Sprintf(
		"SELECT %s FROM runs WHERE status = ? AND %s < ? ORDER BY id", runColumns, ageColumn),
		string(status), cutoff)
}

func (r *Repository) query(q string, args ...interface{}) ([]domain.Run, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

func scanRun(rows *sql.Rows) (*domain.Run, error) {
	var run domain.Run
	var params, tickers, optParams, metrics string
	var status string
	var isOpt int
	var benchmark sql.NullInt64
	var startUnix, endUnix, created int64
	var started, completed sql.NullInt64
	var execSeconds sql.NullFloat64
	var report []byte
	var errMsg sql.NullString

	err := rows.Scan(&run.ID, &run.Name, &run.StrategyClass, &params, &tickers,
		&benchmark, &startUnix, &endUnix, &run.InitialCapital, &isOpt,
		&optParams, &status, &run.PID, &created, &started, &completed,
		&execSeconds, &run.LogOutput, &report, &metrics, &errMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run row: %w", err)
	}

	if err := json.Unmarshal([]byte(params), &run.StrategyParameters); err != nil {
		return nil, fmt.Errorf("failed to decode run %d parameters: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(tickers), &run.TickerIDs); err != nil {
		return nil, fmt.Errorf("failed to decode run %d ticker ids: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(optParams), &run.OptimizationParams); err != nil {
		return nil, fmt.Errorf("failed to decode run %d optimization params: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(metrics), &run.ResultMetrics); err != nil {
		return nil, fmt.Errorf("failed to decode run %d metrics: %w", run.ID, err)
	}

	run.StartDate = utils.UnixToDate(startUnix)
	run.EndDate = utils.UnixToDate(endUnix)
	run.IsOptimization = isOpt != 0
	run.Status = domain.RunStatus(status)
	run.CreatedAt = time.Unix(created, 0).UTC()
	run.ReportBlob = report
	if benchmark.Valid {
		run.BenchmarkTickerID = &benchmark.Int64
	}
	if started.Valid {
		t := time.Unix(started.Int64, 0).UTC()
		run.StartedAt = &t
	}
	if completed.Valid {
		t := time.Unix(completed.Int64, 0).UTC()
		run.CompletedAt = &t
	}
	if execSeconds.Valid {
		run.ExecutionSeconds = &execSeconds.Float64
	}
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	return &run, nil
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

func orEmptyOpt(ps []domain.OptimizationParam) []domain.OptimizationParam {
	if ps == nil {
		return []domain.OptimizationParam{}
	}
	return ps
}

func orEmptyMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
