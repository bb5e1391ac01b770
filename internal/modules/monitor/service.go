package monitor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/modules/ledger"
	"github.com/avramidis/strategem/internal/modules/series"
	"github.com/avramidis/strategem/internal/modules/simulation"
	"github.com/avramidis/strategem/internal/modules/strategy"
	"github.com/avramidis/strategem/internal/utils"
)

// AdvanceOutcome classifies one daily-advance attempt.
type AdvanceOutcome string

const (
	// Advanced means the date was processed and persisted.
	Advanced AdvanceOutcome = "advanced"
	// SkippedProcessed means the date is at or before the monitor's cursor.
	SkippedProcessed AdvanceOutcome = "skipped_already_processed"
	// SkippedNoQuotes means at least one tracked ticker has no bar on the
	// date yet.
	SkippedNoQuotes AdvanceOutcome = "skipped_no_quotes"
)

// AdvanceResult reports one daily-advance attempt.
type AdvanceResult struct {
	MonitorID int64          `json:"monitor_id"`
	Date      string         `json:"date"`
	Outcome   AdvanceOutcome `json:"outcome"`
	Equity    string         `json:"equity,omitempty"`
	Trades    int            `json:"trades,omitempty"`
}

// Service drives the monitor state machine: the initial backtest that
// establishes state, then idempotent one-day advances. Both phases step the
// same simulation kernel so replaying history and advancing live are the
// same code path.
type Service struct {
	monitors domain.MonitorRepo
	tickers  domain.TickerRepo
	quotes   domain.QuoteRepo
	store    *series.Store
	registry *strategy.Registry
	kernel   *simulation.Kernel
	log      zerolog.Logger
}

// NewService creates a monitor service.
func NewService(monitors domain.MonitorRepo, tickers domain.TickerRepo, quotes domain.QuoteRepo,
	store *series.Store, registry *strategy.Registry, kernel *simulation.Kernel, log zerolog.Logger) *Service {
	return &Service{
		monitors: monitors,
		tickers:  tickers,
		quotes:   quotes,
		store:    store,
		registry: registry,
		kernel:   kernel,
		log:      log.With().Str("component", "monitor_service").Logger(),
	}
}

// RunInitialBacktest replays history from the monitor's start date through
// the latest available quote date, persisting a snapshot per processed day.
// On success the monitor transitions to active with its cursor on the final
// date; positions stay open for the daily advances to continue from.
func (s *Service) RunInitialBacktest(ctx context.Context, monitorID int64) error {
	m, err := s.monitors.Get(monitorID)
	if err != nil {
		return domain.WrapError(domain.PersistenceFault, err, "load monitor %d", monitorID)
	}
	if m == nil {
		return domain.NewError(domain.InvalidInput, "unknown monitor %d", monitorID)
	}
	if m.Status != domain.MonitorInitializing {
		return domain.NewError(domain.InvalidInput,
			"monitor %d is %s, initial backtest requires initializing", monitorID, m.Status)
	}

	st, err := s.registry.Instantiate(m.StrategyClass, strategy.Params(m.StrategyParameters))
	if err != nil {
		return s.failBacktest(monitorID, err)
	}
	lookback := st.MaxLookback()

	endDate, ok, err := s.latestQuoteDate(m.TickerIDs)
	if err != nil {
		return s.failBacktest(monitorID, err)
	}
	if !ok || endDate < m.StartDate {
		return s.failBacktest(monitorID, domain.NewError(domain.NoData,
			"no quotes at or after monitor start %s", m.StartDate))
	}

	assets, err := s.loadAssets(m.TickerIDs, warmupStart(m.StartDate, lookback), endDate)
	if err != nil {
		return s.failBacktest(monitorID, err)
	}

	if err := s.monitors.UpdateBacktestProgress(monitorID, 0, "running", ""); err != nil {
		return err
	}

	rt := st.Runtime()
	initial := decimal.NewFromFloat(m.InitialCapital)
	prevEquity := initial
	lastPct := -1

	result, err := s.kernel.Run(simulation.Config{
		Strategy:       st,
		Assets:         assets,
		StartDate:      m.StartDate,
		EndDate:        endDate,
		Resolution:     domain.Daily,
		InitialCapital: initial,
		KeepOpenAtEnd:  true,
		BarEnd: func(barIndex, totalBars int, date string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			snap, eq, err := s.buildSnapshot(monitorID, date, rt, prevEquity, initial)
			if err != nil {
				return err
			}
			if err := s.monitors.SaveSnapshot(snap); err != nil {
				return domain.WrapError(domain.PersistenceFault, err, "snapshot at %s", date)
			}
			prevEquity = eq
			if pct := (barIndex + 1) * 100 / totalBars; pct != lastPct {
				lastPct = pct
				if err := s.monitors.UpdateBacktestProgress(monitorID, pct, "running", date); err != nil {
					return domain.WrapError(domain.PersistenceFault, err, "progress at %s", date)
				}
			}
			return nil
		},
	})
	if err != nil {
		return s.failBacktest(monitorID, err)
	}

	for i := range result.TradeLog {
		if err := s.monitors.SaveTrade(monitorID, &result.TradeLog[i]); err != nil {
			return domain.WrapError(domain.PersistenceFault, err, "backtest trade")
		}
	}
	if err := s.monitors.SaveMetrics(monitorID, domain.MetricBacktest, result.Metrics); err != nil {
		return domain.WrapError(domain.PersistenceFault, err, "backtest metrics")
	}
	if result.LastProcessedDate != "" {
		if err := s.monitors.UpdateLastProcessed(monitorID, result.LastProcessedDate); err != nil {
			return err
		}
	}
	if err := s.monitors.UpdateBacktestProgress(monitorID, 100, "completed", result.LastProcessedDate); err != nil {
		return err
	}
	if err := s.monitors.UpdateStatus(monitorID, domain.MonitorActive); err != nil {
		return err
	}

	s.log.Info().Int64("monitor_id", monitorID).Str("through", result.LastProcessedDate).
		Int("trades", len(result.TradeLog)).Msg("Initial backtest complete, monitor active")
	return nil
}

// Advance processes one trading day for an active monitor. The call is
// idempotent: a date at or before the cursor is skipped, and a date no
// tracked ticker has quotes for yet is skipped without moving the cursor.
func (s *Service) Advance(ctx context.Context, monitorID int64, date string) (*AdvanceResult, error) {
	if _, err := utils.ParseDate(date); err != nil {
		return nil, domain.WrapError(domain.InvalidInput, err, "advance date")
	}
	m, err := s.monitors.Get(monitorID)
	if err != nil {
		return nil, domain.WrapError(domain.PersistenceFault, err, "load monitor %d", monitorID)
	}
	if m == nil {
		return nil, domain.NewError(domain.InvalidInput, "unknown monitor %d", monitorID)
	}
	if m.Status != domain.MonitorActive {
		return nil, domain.NewError(domain.InvalidInput,
			"monitor %d is %s, advance requires active", monitorID, m.Status)
	}

	if m.LastProcessedDate != nil && date <= *m.LastProcessedDate {
		s.log.Info().Int64("monitor_id", monitorID).Str("date", date).
			Str("cursor", *m.LastProcessedDate).Msg("Date already processed, skipping")
		return &AdvanceResult{MonitorID: monitorID, Date: date, Outcome: SkippedProcessed}, nil
	}

	hasQuotes, err := s.allBarsOn(m.TickerIDs, date)
	if err != nil {
		return nil, err
	}
	if !hasQuotes {
		s.log.Info().Int64("monitor_id", monitorID).Str("date", date).
			Msg("Not every ticker has quotes for the date yet, skipping without moving cursor")
		return &AdvanceResult{MonitorID: monitorID, Date: date, Outcome: SkippedNoQuotes}, nil
	}

	st, err := s.registry.Instantiate(m.StrategyClass, strategy.Params(m.StrategyParameters))
	if err != nil {
		return nil, err
	}
	lookback := st.MaxLookback()
	rt := st.Runtime()

	snap, err := s.monitors.GetLatestSnapshot(monitorID)
	if err != nil {
		return nil, domain.WrapError(domain.PersistenceFault, err, "latest snapshot for monitor %d", monitorID)
	}

	initial := decimal.NewFromFloat(m.InitialCapital)
	prevEquity := initial
	var restore *simulation.RestoreState
	if snap != nil {
		restore, err = restoreFromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		if prevEquity, err = decimal.NewFromString(snap.Equity); err != nil {
			return nil, fmt.Errorf("corrupt snapshot equity for monitor %d: %w", monitorID, err)
		}
		if len(snap.StrategyVariables) > 0 {
			var vars map[string]interface{}
			if err := msgpack.Unmarshal(snap.StrategyVariables, &vars); err != nil {
				return nil, fmt.Errorf("corrupt strategy variables for monitor %d: %w", monitorID, err)
			}
			rt.SetVars(vars)
		}
		rt.RestoreSignals(restoreSignals(snap.PendingSignals))
	}

	// Dates at or before the cursor only warm up history. Dates between the
	// cursor and the advance target fire events, so multi-day quote gaps
	// replay the same way a fresh run would.
	stepFrom := ""
	if m.LastProcessedDate != nil {
		stepFrom = *m.LastProcessedDate
	} else if stepFrom, err = utils.AddDays(date, -1); err != nil {
		return nil, domain.WrapError(domain.InvalidInput, err, "advance date")
	}

	loadStart := warmupStart(stepFrom, lookback)
	assets, err := s.loadAssets(m.TickerIDs, loadStart, date)
	if err != nil {
		return nil, err
	}

	result, err := s.kernel.Run(simulation.Config{
		Strategy:       st,
		Assets:         assets,
		StartDate:      loadStart,
		EndDate:        date,
		Resolution:     domain.Daily,
		InitialCapital: initial,
		Live:           true,
		StepFrom:       stepFrom,
		KeepOpenAtEnd:  true,
		Restore:        restore,
	})
	if err != nil {
		return nil, err
	}

	daySnap, _, err := s.buildSnapshot(monitorID, date, rt, prevEquity, initial)
	if err != nil {
		return nil, err
	}
	if err := s.monitors.SaveSnapshot(daySnap); err != nil {
		return nil, domain.WrapError(domain.PersistenceFault, err, "snapshot at %s", date)
	}
	for i := range result.TradeLog {
		if err := s.monitors.SaveTrade(monitorID, &result.TradeLog[i]); err != nil {
			return nil, domain.WrapError(domain.PersistenceFault, err, "advance trade")
		}
	}
	if err := s.monitors.UpdateLastProcessed(monitorID, date); err != nil {
		return nil, err
	}
	if err := s.updateForwardMetrics(monitorID, m, daySnap); err != nil {
		return nil, err
	}

	s.log.Info().Int64("monitor_id", monitorID).Str("date", date).
		Str("equity", daySnap.Equity).Int("trades", len(result.TradeLog)).
		Msg("Monitor advanced")
	return &AdvanceResult{
		MonitorID: monitorID,
		Date:      date,
		Outcome:   Advanced,
		Equity:    daySnap.Equity,
		Trades:    len(result.TradeLog),
	}, nil
}

// AdvanceAll advances every active monitor to the given date. Per-monitor
// faults are logged and counted; the remaining monitors still advance.
func (s *Service) AdvanceAll(ctx context.Context, date string) (advanced, skipped, failed int, err error) {
	active, err := s.monitors.ListByStatus(domain.MonitorActive)
	if err != nil {
		return 0, 0, 0, domain.WrapError(domain.PersistenceFault, err, "list active monitors")
	}
	for _, m := range active {
		if err := ctx.Err(); err != nil {
			return advanced, skipped, failed, err
		}
		res, err := s.Advance(ctx, m.ID, date)
		if err != nil {
			failed++
			s.log.Error().Err(err).Int64("monitor_id", m.ID).Str("date", date).
				Msg("Monitor advance failed, continuing with remaining monitors")
			continue
		}
		if res.Outcome == Advanced {
			advanced++
		} else {
			skipped++
		}
	}
	return advanced, skipped, failed, nil
}

// Stop transitions an active monitor to stopped.
func (s *Service) Stop(monitorID int64) error {
	m, err := s.monitors.Get(monitorID)
	if err != nil {
		return domain.WrapError(domain.PersistenceFault, err, "load monitor %d", monitorID)
	}
	if m == nil {
		return domain.NewError(domain.InvalidInput, "unknown monitor %d", monitorID)
	}
	return s.monitors.UpdateStatus(monitorID, domain.MonitorStopped)
}

func (s *Service) failBacktest(monitorID int64, cause error) error {
	if err := s.monitors.UpdateBacktestError(monitorID, cause.Error()); err != nil {
		s.log.Error().Err(err).Int64("monitor_id", monitorID).Msg("Failed to record backtest error")
	}
	if err := s.monitors.UpdateStatus(monitorID, domain.MonitorFailed); err != nil {
		s.log.Error().Err(err).Int64("monitor_id", monitorID).Msg("Failed to mark monitor failed")
	}
	return cause
}

// buildSnapshot captures the runtime's ledger state as a persisted snapshot.
func (s *Service) buildSnapshot(monitorID int64, date string, rt *strategy.Runtime,
	prevEquity, initial decimal.Decimal) (*domain.Snapshot, decimal.Decimal, error) {

	led := rt.Ledger()
	eq := led.Equity()

	vars, err := msgpack.Marshal(rt.Vars())
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to encode strategy variables: %w", err)
	}

	daily := 0.0
	if prevEquity.IsPositive() {
		daily, _ = eq.Sub(prevEquity).Div(prevEquity).Mul(decimal.NewFromInt(100)).Float64()
	}
	cumulative := 0.0
	if initial.IsPositive() {
		cumulative, _ = eq.Sub(initial).Div(initial).Mul(decimal.NewFromInt(100)).Float64()
	}

	return &domain.Snapshot{
		MonitorID:         monitorID,
		Date:              date,
		Equity:            eq.String(),
		Cash:              led.Cash().String(),
		Positions:         snapshotPositions(led.OpenPositions()),
		PendingSignals:    snapshotSignals(rt.PendingSignals()),
		StrategyVariables: vars,
		DailyReturn:       daily,
		CumulativeReturn:  cumulative,
	}, eq, nil
}

// updateForwardMetrics recomputes the forward metric map after each advance.
// Only trades closed after the initial backtest's end date count; the
// backtest's own trades live in the backtest metric kind.
func (s *Service) updateForwardMetrics(monitorID int64, m *domain.Monitor, latest *domain.Snapshot) error {
	trades, err := s.monitors.GetTrades(monitorID)
	if err != nil {
		return domain.WrapError(domain.PersistenceFault, err, "trades for monitor %d", monitorID)
	}

	wins, losses, total := 0, 0, 0
	netProfit := 0.0
	for _, t := range trades {
		if m.BacktestCurrentDate != nil && t.CloseTime <= *m.BacktestCurrentDate {
			continue
		}
		total++
		netProfit += t.Profit
		switch {
		case t.Profit > 0:
			wins++
		case t.Profit < 0:
			losses++
		}
	}
	winRate := 0.0
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses) * 100
	}

	metrics := map[string]float64{
		"total_transactions":      float64(total),
		"profitable_transactions": float64(wins),
		"losing_transactions":     float64(losses),
		"net_profit":              netProfit,
		"win_rate":                winRate,
		"cumulative_return":       latest.CumulativeReturn,
		"daily_return":            latest.DailyReturn,
	}
	return s.monitors.SaveMetrics(monitorID, domain.MetricForward, metrics)
}

// loadAssets builds the asset group for a monitor's ticker set.
func (s *Service) loadAssets(tickerIDs []int64, from, to string) (*series.Group, error) {
	group := series.NewGroup()
	for _, id := range tickerIDs {
		asset, err := s.store.LoadWindow(id, from, to)
		if err != nil {
			return nil, err
		}
		group.Add(asset)
	}
	return group, nil
}

// latestQuoteDate returns the max last-quoted date across the ticker set.
func (s *Service) latestQuoteDate(tickerIDs []int64) (string, bool, error) {
	latest := ""
	for _, id := range tickerIDs {
		_, last, ok, err := s.quotes.GetDateRange(id)
		if err != nil {
			return "", false, domain.WrapError(domain.PersistenceFault, err, "quote range for ticker %d", id)
		}
		if ok && last > latest {
			latest = last
		}
	}
	return latest, latest != "", nil
}

// allBarsOn reports whether every tracked ticker traded on the date. A
// partial quote update leaves the date unprocessable until the rest arrive.
func (s *Service) allBarsOn(tickerIDs []int64, date string) (bool, error) {
	for _, id := range tickerIDs {
		has, err := s.quotes.HasBarOn(id, date)
		if err != nil {
			return false, domain.WrapError(domain.PersistenceFault, err, "bar check for ticker %d", id)
		}
		if !has {
			return false, nil
		}
	}
	return true, nil
}

// warmupStart pads the load window so the lookback guarantee holds from the
// first event date. Calendar days overshoot trading days; the extra bars only
// deepen history.
func warmupStart(date string, lookback int) string {
	start, err := utils.AddDays(date, -(lookback*2 + 30))
	if err != nil {
		return date
	}
	return start
}

// snapshotPositions converts open ledger positions to their persisted form.
func snapshotPositions(positions []*ledger.Position) []domain.SnapshotPosition {
	out := make([]domain.SnapshotPosition, 0, len(positions))
	for _, p := range positions {
		out = append(out, domain.SnapshotPosition{
			ID:        p.ID,
			Ticker:    p.Ticker,
			Side:      p.Side,
			OpenPrice: p.OpenPrice.String(),
			Quantity:  p.Quantity.String(),
			OpenDate:  p.OpenDate,
			OpenBar:   p.OpenBar,
			Comment:   p.Comment,
		})
	}
	return out
}

// snapshotSignals converts the runtime's queued signals to their persisted form.
func snapshotSignals(sigs []strategy.Signal) []domain.SnapshotSignal {
	out := make([]domain.SnapshotSignal, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, domain.SnapshotSignal{
			Kind:         int(sig.Kind),
			Side:         sig.Side,
			Ticker:       sig.Ticker,
			CashFraction: sig.CashFraction,
			PositionID:   sig.PositionID,
			Comment:      sig.Comment,
		})
	}
	return out
}

// restoreSignals converts persisted signals back to runtime form.
func restoreSignals(sigs []domain.SnapshotSignal) []strategy.Signal {
	out := make([]strategy.Signal, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, strategy.Signal{
			Kind:         strategy.SignalKind(sig.Kind),
			Side:         sig.Side,
			Ticker:       sig.Ticker,
			CashFraction: sig.CashFraction,
			PositionID:   sig.PositionID,
			Comment:      sig.Comment,
		})
	}
	return out
}

// restoreFromSnapshot rebuilds ledger restore state from a persisted snapshot.
func restoreFromSnapshot(snap *domain.Snapshot) (*simulation.RestoreState, error) {
	cash, err := decimal.NewFromString(snap.Cash)
	if err != nil {
		return nil, fmt.Errorf("corrupt snapshot cash: %w", err)
	}
	positions := make([]*ledger.Position, 0, len(snap.Positions))
	for _, sp := range snap.Positions {
		price, err := decimal.NewFromString(sp.OpenPrice)
		if err != nil {
			return nil, fmt.Errorf("corrupt snapshot position price: %w", err)
		}
		qty, err := decimal.NewFromString(sp.Quantity)
		if err != nil {
			return nil, fmt.Errorf("corrupt snapshot position quantity: %w", err)
		}
		positions = append(positions, &ledger.Position{
			ID:           sp.ID,
			Ticker:       sp.Ticker,
			Side:         sp.Side,
			OpenPrice:    price,
			Quantity:     qty,
			OpenSize:     price.Mul(qty),
			CurrentPrice: price,
			Status:       ledger.StatusOpen,
			OpenDate:     sp.OpenDate,
			OpenBar:      sp.OpenBar,
			Comment:      sp.Comment,
		})
	}
	return &simulation.RestoreState{Cash: cash, Positions: positions}, nil
}
