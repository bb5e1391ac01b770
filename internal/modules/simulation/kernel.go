// Package simulation contains the bar-stepping event loop that drives a
// strategy over loaded assets, and the Cartesian parameter sweep built on
// top of it.
package simulation

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/modules/ledger"
	"github.com/avramidis/strategem/internal/modules/series"
	"github.com/avramidis/strategem/internal/modules/strategy"
	"github.com/avramidis/strategem/internal/utils"
)

// Config is one simulation run.
type Config struct {
	Strategy       strategy.Strategy
	Assets         *series.Group
	StartDate      string
	EndDate        string
	Resolution     domain.Resolution
	Benchmark      *series.Asset
	InitialCapital decimal.Decimal

	// Live marks forward-test (monitor) execution; it is passed through to
	// strategy callbacks untouched.
	Live bool

	// StepFrom, when set, suppresses events for dates at or before it.
	// Those bars only advance history. Monitors use this to resume from the
	// last processed date with the lookback window pre-loaded.
	StepFrom string

	// KeepOpenAtEnd skips OnStrategyEnd and the final force-close. Monitors
	// keep positions open across daily advances.
	KeepOpenAtEnd bool

	// Restore, when non-nil, reinstates ledger state before stepping.
	Restore *RestoreState

	// BarEnd, when non-nil, runs after each processed date's equity
	// snapshot. Monitors persist daily snapshots through it. An error
	// aborts the run.
	BarEnd func(barIndex, totalBars int, date string) error
}

// RestoreState carries snapshot state back into a fresh ledger.
type RestoreState struct {
	Cash      decimal.Decimal
	Positions []*ledger.Position
}

// Kernel drives simulations. It is stateless across runs.
type Kernel struct {
	log zerolog.Logger
}

// NewKernel creates a simulation kernel.
func NewKernel(log zerolog.Logger) *Kernel {
	return &Kernel{log: log.With().Str("component", "kernel").Logger()}
}

// Run executes the bar loop between the configured dates and returns the
// terminal result. Strategy errors abort with StrategyFault, preserving
// ledger state at the point of failure inside the returned result.
func (k *Kernel) Run(cfg Config) (*Result, error) {
	if cfg.Strategy == nil {
		return nil, domain.NewError(domain.InvalidInput, "no strategy configured")
	}
	if _, err := utils.ParseDate(cfg.StartDate); err != nil {
		return nil, domain.WrapError(domain.InvalidInput, err, "start date")
	}
	if _, err := utils.ParseDate(cfg.EndDate); err != nil {
		return nil, domain.WrapError(domain.InvalidInput, err, "end date")
	}
	if cfg.StartDate > cfg.EndDate {
		return nil, domain.NewError(domain.InvalidInput,
			"invalid window: start %s after end %s", cfg.StartDate, cfg.EndDate)
	}
	if cfg.Assets == nil || cfg.Assets.Len() == 0 || cfg.Assets.TotalBars() == 0 {
		return nil, domain.NewError(domain.NoData, "no quote data loaded for window %s..%s",
			cfg.StartDate, cfg.EndDate)
	}

	led := ledger.New(cfg.InitialCapital, k.log)
	if cfg.Restore != nil {
		led.Restore(cfg.Restore.Cash, cfg.Restore.Positions)
	}
	rt := cfg.Strategy.Runtime()
	rt.Bind(led, k.log)

	dates := cfg.Assets.UnionDates(cfg.StartDate, cfg.EndDate)
	if cfg.Resolution == domain.Weekly {
		dates = lastPerISOWeek(dates)
	}
	if len(dates) == 0 {
		return nil, domain.NewError(domain.NoData, "no bars between %s and %s",
			cfg.StartDate, cfg.EndDate)
	}

	result := newResult(cfg, led)
	lookback := cfg.Strategy.MaxLookback()
	lastProcessed := ""

	for i, date := range dates {
		if cfg.StepFrom != "" && date <= cfg.StepFrom {
			continue // history warmup only
		}
		led.SetBarIndex(i)

		if minHistoryDepth(cfg.Assets, date) < lookback {
			continue
		}

		// Open: execute signals queued by the prior close, then dispatch.
		k.executeSignals(rt, cfg.Assets, date, led)
		if err := cfg.Strategy.OnOpen(cfg.Assets, date, cfg.Live); err != nil {
			result.finish(led)
			return result, domain.WrapError(domain.StrategyFault, err, "onOpen at %s", date)
		}
		if rt.AllowSameBarOpen {
			k.executeSignals(rt, cfg.Assets, date, led)
		}

		// Close: strategy observes the full bar, queues signals for the
		// next open.
		if err := cfg.Strategy.OnClose(cfg.Assets, date, cfg.Live); err != nil {
			result.finish(led)
			return result, domain.WrapError(domain.StrategyFault, err, "onClose at %s", date)
		}

		k.markToMarket(cfg.Assets, date, led)
		led.SnapshotEquity(date)
		lastProcessed = date

		if cfg.BarEnd != nil {
			if err := cfg.BarEnd(i, len(dates), date); err != nil {
				result.finish(led)
				return result, err
			}
		}
	}

	if !cfg.KeepOpenAtEnd && lastProcessed != "" {
		if err := cfg.Strategy.OnStrategyEnd(cfg.Assets, lastProcessed, cfg.Live); err != nil {
			result.finish(led)
			return result, domain.WrapError(domain.StrategyFault, err, "onStrategyEnd at %s", lastProcessed)
		}
		// Whatever the strategy queued, every position closes at the final
		// bar's close price.
		rt.DrainSignals()
		if err := led.CloseAll(closePriceAt(cfg.Assets, lastProcessed), lastProcessed, "end of run"); err != nil {
			result.finish(led)
			return result, err
		}
	}

	result.finish(led)
	result.LastProcessedDate = lastProcessed
	k.log.Info().Str("strategy", cfg.Strategy.Name()).
		Str("from", cfg.StartDate).Str("to", cfg.EndDate).
		Int("bars", len(dates)).Int("trades", len(result.TradeLog)).
		Msg("Simulation complete")
	return result, nil
}

// executeSignals drains the runtime queue and executes each signal at the
// current date's open price. Signals for tickers without a bar today stay
// queued for the next executed open.
func (k *Kernel) executeSignals(rt *strategy.Runtime, assets *series.Group, date string, led *ledger.Ledger) {
	var requeue []strategy.Signal
	for _, sig := range rt.DrainSignals() {
		switch sig.Kind {
		case strategy.SignalOpen:
			asset := assets.Get(sig.Ticker)
			if asset == nil {
				k.log.Warn().Str("ticker", sig.Ticker).Msg("Signal references unknown ticker, dropped")
				continue
			}
			bar := asset.BarOn(date)
			if bar == nil {
				requeue = append(requeue, sig)
				continue
			}
			price := decimal.NewFromFloat(bar.Open)
			qty := rt.QuantityFor(sig.CashFraction, price)
			if !qty.IsPositive() {
				continue // nothing affordable
			}
			if _, err := led.OpenPosition(sig.Side, sig.Ticker, price, qty, date, sig.Comment); err != nil {
				k.log.Warn().Err(err).Str("ticker", sig.Ticker).Msg("Open signal rejected")
			}
		case strategy.SignalClose:
			price, ok := openPriceFor(assets, led, sig.PositionID, date)
			if !ok {
				continue // already closed
			}
			if _, err := led.ClosePosition(sig.PositionID, price, date, sig.Comment); err != nil {
				k.log.Warn().Err(err).Str("position", sig.PositionID).Msg("Close signal rejected")
			}
		case strategy.SignalCloseAll:
			if err := led.CloseAll(openPriceAt(assets, date), date, sig.Comment); err != nil {
				k.log.Warn().Err(err).Msg("Close-all signal rejected")
			}
		}
	}
	for _, sig := range requeue {
		rt.Requeue(sig)
	}
}

// markToMarket reprices open positions at the latest close on or before the
// date. Tickers without a bar today keep their stale latest close.
func (k *Kernel) markToMarket(assets *series.Group, date string, led *ledger.Ledger) {
	for _, p := range led.OpenPositions() {
		asset := assets.Get(p.Ticker)
		if asset == nil {
			continue
		}
		if bar := asset.LatestOnOrBefore(date); bar != nil {
			_ = led.UpdateMarkToMarket(p.ID, decimal.NewFromFloat(bar.Close))
		}
	}
}

// openPriceFor resolves the execution price of a close signal: the ticker's
// open today, falling back to the position's last mark when it did not trade.
func openPriceFor(assets *series.Group, led *ledger.Ledger, positionID, date string) (decimal.Decimal, bool) {
	for _, p := range led.OpenPositions() {
		if p.ID != positionID {
			continue
		}
		if asset := assets.Get(p.Ticker); asset != nil {
			if bar := asset.BarOn(date); bar != nil {
				return decimal.NewFromFloat(bar.Open), true
			}
		}
		return p.CurrentPrice, true
	}
	return decimal.Zero, false
}

// openPriceAt returns a price lookup for CloseAll at the date's open.
func openPriceAt(assets *series.Group, date string) func(string) (decimal.Decimal, bool) {
	return func(ticker string) (decimal.Decimal, bool) {
		if asset := assets.Get(ticker); asset != nil {
			if bar := asset.BarOn(date); bar != nil {
				return decimal.NewFromFloat(bar.Open), true
			}
		}
		return decimal.Zero, false
	}
}

// closePriceAt returns a price lookup for CloseAll at the date's close.
func closePriceAt(assets *series.Group, date string) func(string) (decimal.Decimal, bool) {
	return func(ticker string) (decimal.Decimal, bool) {
		if asset := assets.Get(ticker); asset != nil {
			if bar := asset.LatestOnOrBefore(date); bar != nil {
				return decimal.NewFromFloat(bar.Close), true
			}
		}
		return decimal.Zero, false
	}
}

// minHistoryDepth returns the smallest per-asset count of bars strictly
// before the date. The lookback guarantee must hold for every ticker.
func minHistoryDepth(assets *series.Group, date string) int {
	min := -1
	for _, sym := range assets.Symbols() {
		depth := assets.Get(sym).CursorAt(date).HistoryDepth()
		if min < 0 || depth < min {
			min = depth
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// lastPerISOWeek collapses an ordered date list to the last trading day of
// each ISO week.
func lastPerISOWeek(dates []string) []string {
	var out []string
	for i, d := range dates {
		if i+1 == len(dates) {
			out = append(out, d)
			break
		}
		y1, w1, err1 := utils.ISOWeek(d)
		y2, w2, err2 := utils.ISOWeek(dates[i+1])
		if err1 != nil || err2 != nil {
			continue
		}
		if y1 != y2 || w1 != w2 {
			out = append(out, d)
		}
	}
	return out
}
