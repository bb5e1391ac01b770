package domain

import "context"

// The core consumes persistence through these narrow ports. The SQLite
// repositories implement them; tests substitute in-memory fakes. The core
// holds no transactions spanning multiple ports.

// TickerRepo provides CRUD over the ticker universe.
type TickerRepo interface {
	Create(t *Ticker) (int64, error)
	Get(id int64) (*Ticker, error)
	GetBySymbol(symbol string) (*Ticker, error)
	List() ([]Ticker, error)
	GetEnabled() ([]Ticker, error)
	Update(t *Ticker) error
	// Delete cascades through quote and audit records.
	Delete(id int64) error
}

// QuoteRepo stores per-ticker daily bars.
type QuoteRepo interface {
	// BatchUpsert is idempotent on (ticker, date); newer values for the
	// same date replace older ones.
	BatchUpsert(tickerID int64, bars []Bar) (int, error)
	GetWindow(tickerID int64, from, to string) ([]Bar, error)
	// GetDateRange returns the first and last quoted dates, or ok=false
	// when the ticker has no quotes at all.
	GetDateRange(tickerID int64) (first, last string, ok bool, err error)
	HasBarOn(tickerID int64, date string) (bool, error)
	Delete(tickerID int64) error
	// AppendAudit records the outcome of one quote update.
	AppendAudit(tickerID int64, source string, barsAdded int, from, to string) error
}

// RunRepo stores backtest run records.
type RunRepo interface {
	Create(r *Run) (int64, error)
	Get(id int64) (*Run, error)
	GetByStrategy(strategyClass string, limit int) ([]Run, error)
	GetRecent(limit int) ([]Run, error)
	UpdateStatus(id int64, status RunStatus, pid int) error
	UpdateResults(id int64, metrics map[string]float64, report []byte, executionSeconds float64) error
	UpdateError(id int64, message string) error
	AppendLog(id int64, lines string) error
	// Stale returns records in the given status older than the cutoff, for
	// the dispatcher health check.
	Stale(status RunStatus, olderThanSeconds int64) ([]Run, error)
}

// MonitorRepo stores monitor records plus their append-only child collections.
type MonitorRepo interface {
	Create(m *Monitor) (int64, error)
	Get(id int64) (*Monitor, error)
	ListByStatus(status MonitorStatus) ([]Monitor, error)
	UpdateStatus(id int64, status MonitorStatus) error
	UpdateLastProcessed(id int64, date string) error
	UpdateBacktestProgress(id int64, progress int, backtestStatus, currentDate string) error
	UpdateBacktestError(id int64, message string) error
	SaveSnapshot(s *Snapshot) error
	GetLatestSnapshot(monitorID int64) (*Snapshot, error)
	GetSnapshots(monitorID int64, limit int) ([]Snapshot, error)
	SaveTrade(monitorID int64, t *TradeLogEntry) error
	GetTrades(monitorID int64) ([]TradeLogEntry, error)
	SaveMetrics(monitorID int64, kind MetricKind, metrics map[string]float64) error
	GetMetrics(monitorID int64, kind MetricKind) (map[string]float64, error)
}

// QuoteSource is a named quote acquisition plugin.
type QuoteSource interface {
	Name() string
	// Fetch returns at least nBars daily bars ending on the most recent
	// trading day, oldest first.
	Fetch(ctx context.Context, symbol, exchange string, resolution Resolution, nBars int) ([]Bar, error)
}
