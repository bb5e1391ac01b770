package domain

import "time"

// RunStatus is the lifecycle state of a backtest run record.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// MonitorStatus is the lifecycle state of a forward-test monitor.
type MonitorStatus string

const (
	MonitorInitializing MonitorStatus = "initializing"
	MonitorActive       MonitorStatus = "active"
	MonitorStopped      MonitorStatus = "stopped"
	MonitorFailed       MonitorStatus = "failed"
)

// Ticker is a tradable instrument known to the engine.
type Ticker struct {
	ID        int64
	Symbol    string
	Exchange  string
	Source    string // quote source plugin name
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OptimizationParam enumerates values from From to To inclusive, stepping by Step.
type OptimizationParam struct {
	Name string  `json:"name"`
	From float64 `json:"from"`
	To   float64 `json:"to"`
	Step float64 `json:"step"`
}

// Values expands the parameter into its concrete value list.
func (p OptimizationParam) Values() []float64 {
	if p.Step <= 0 || p.From > p.To {
		return nil
	}
	var out []float64
	// Guard against float drift collecting a value just past To.
	for v := p.From; v <= p.To+p.Step*1e-9; v += p.Step {
		out = append(out, v)
	}
	return out
}

// Run is one backtest execution record, optionally an optimization sweep.
type Run struct {
	ID                 int64
	Name               string
	StrategyClass      string
	StrategyParameters map[string]interface{}
	TickerIDs          []int64
	BenchmarkTickerID  *int64
	StartDate          string
	EndDate            string
	InitialCapital     float64
	IsOptimization     bool
	OptimizationParams []OptimizationParam
	Status             RunStatus
	PID                int // process handling the run, 0 if none recorded
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	ExecutionSeconds   *float64
	LogOutput          string
	ReportBlob         []byte
	ResultMetrics      map[string]float64
	ErrorMessage       *string
}

// Monitor is a strategy in forward-test mode, advanced one bar at a time.
type Monitor struct {
	ID                  int64
	Name                string
	StrategyClass       string
	StrategyParameters  map[string]interface{}
	TickerIDs           []int64
	StartDate           string
	InitialCapital      float64
	Status              MonitorStatus
	LastProcessedDate   *string
	BacktestProgress    int // 0-100
	BacktestStatus      string
	BacktestError       *string
	BacktestCurrentDate *string
	CreatedAt           time.Time
}

// Snapshot is the persisted end-of-bar state of a monitor. StrategyVariables
// is an opaque blob only the strategy interprets. PendingSignals carries the
// intents queued at the snapshot date's close but not yet executed, so a
// later advance fills them exactly as an uninterrupted run would.
type Snapshot struct {
	MonitorID         int64
	Date              string
	Equity            string // decimal string, exact
	Cash              string // decimal string, exact
	Positions         []SnapshotPosition
	PendingSignals    []SnapshotSignal
	StrategyVariables []byte
	DailyReturn       float64
	CumulativeReturn  float64
}

// SnapshotPosition is one open position inside a snapshot.
type SnapshotPosition struct {
	ID        string `msgpack:"id" json:"id"`
	Ticker    string `msgpack:"ticker" json:"ticker"`
	Side      Side   `msgpack:"side" json:"side"`
	OpenPrice string `msgpack:"open_price" json:"open_price"`
	Quantity  string `msgpack:"quantity" json:"quantity"`
	OpenDate  string `msgpack:"open_date" json:"open_date"`
	OpenBar   int    `msgpack:"open_bar" json:"open_bar"`
	Comment   string `msgpack:"comment" json:"comment"`
}

// SnapshotSignal is one queued, not yet executed signal inside a snapshot.
type SnapshotSignal struct {
	Kind         int     `msgpack:"kind" json:"kind"`
	Side         Side    `msgpack:"side" json:"side"`
	Ticker       string  `msgpack:"ticker" json:"ticker"`
	CashFraction float64 `msgpack:"cash_fraction" json:"cash_fraction"`
	PositionID   string  `msgpack:"position_id" json:"position_id"`
	Comment      string  `msgpack:"comment" json:"comment"`
}

// TradeLogEntry is the ledger view of a closed position.
type TradeLogEntry struct {
	Ticker                  string  `json:"ticker"`
	Side                    Side    `json:"side"`
	OpenTime                string  `json:"open_time"`
	CloseTime               string  `json:"close_time"`
	OpenPrice               float64 `json:"open_price"`
	ClosePrice              float64 `json:"close_price"`
	Quantity                float64 `json:"quantity"`
	Profit                  float64 `json:"profit"`
	ProfitPercent           float64 `json:"profit_percent"`
	BalanceAfter            float64 `json:"balance_after"`
	PositionDrawdownValue   float64 `json:"position_drawdown_value"`
	PositionDrawdownPercent float64 `json:"position_drawdown_percent"`
	Comment                 string  `json:"comment"`
}

// MetricKind separates a monitor's initial-backtest metrics from the
// forward metrics accumulated by daily advances.
type MetricKind string

const (
	MetricBacktest MetricKind = "backtest"
	MetricForward  MetricKind = "forward"
)
