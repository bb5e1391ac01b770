package strategy

import (
	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/modules/series"
	"github.com/avramidis/strategem/pkg/formulas"
)

// closesThrough collects the lookback closes up to and including the bar on
// the given date. Returns nil when the ticker has no bar that day.
func closesThrough(a *series.Asset, date string, lookback int) []float64 {
	cur := a.CursorAt(date)
	bar := cur.Bar()
	if bar == nil {
		return nil
	}
	prefix := cur.PrefixBefore(lookback)
	out := make([]float64, 0, len(prefix)+1)
	for _, b := range prefix {
		out = append(out, b.Close)
	}
	return append(out, bar.Close)
}

// ─── buy-and-hold ───────────────────────────────────────────────────────

// BuyAndHold enters every asset with an equal cash split on the first close
// it observes, then holds until the end of the run.
type BuyAndHold struct {
	Base
}

// BuyAndHoldDescriptor registers the buy-and-hold strategy class.
func BuyAndHoldDescriptor() Descriptor {
	return Descriptor{
		Name:        "buy-and-hold",
		Description: "Buy every ticker at the first opportunity and hold to the end.",
		Defaults:    Params{},
		New: func(rt *Runtime) Strategy {
			return &BuyAndHold{Base: NewBase(rt)}
		},
	}
}

func (s *BuyAndHold) Name() string     { return "buy-and-hold" }
func (s *BuyAndHold) MaxLookback() int { return 0 }

func (s *BuyAndHold) OnClose(assets *series.Group, date string, live bool) error {
	rt := s.Runtime()
	if rt.VarBool("entered") {
		return nil
	}
	symbols := assets.Symbols()
	fraction := 1.0 / float64(len(symbols))
	for _, sym := range symbols {
		rt.Entry(domain.Long, sym, fraction, "initial entry")
	}
	rt.Vars()["entered"] = true
	return nil
}

// ─── sma-cross ──────────────────────────────────────────────────────────

// SMACross goes long when the fast SMA crosses above the slow SMA and exits
// when it crosses back below, independently per ticker.
type SMACross struct {
	Base
}

// SMACrossDescriptor registers the sma-cross strategy class.
func SMACrossDescriptor() Descriptor {
	return Descriptor{
		Name:        "sma-cross",
		Description: "Long when the fast SMA is above the slow SMA, flat otherwise.",
		Defaults:    Params{"fast": 20, "slow": 50},
		New: func(rt *Runtime) Strategy {
			return &SMACross{Base: NewBase(rt)}
		},
	}
}

func (s *SMACross) Name() string { return "sma-cross" }

func (s *SMACross) MaxLookback() int {
	return s.Runtime().Params().Int("slow", 50)
}

func (s *SMACross) OnClose(assets *series.Group, date string, live bool) error {
	rt := s.Runtime()
	fast := rt.Params().Int("fast", 20)
	slow := rt.Params().Int("slow", 50)
	fraction := 1.0 / float64(assets.Len())

	for _, sym := range assets.Symbols() {
		closes := closesThrough(assets.Get(sym), date, slow)
		if closes == nil {
			continue // no bar for this ticker today
		}
		fastSMA := formulas.SMA(closes, fast)
		slowSMA := formulas.SMA(closes, slow)
		if fastSMA == nil || slowSMA == nil {
			continue
		}

		holding := len(rt.Ledger().OpenPositionsFor(sym)) > 0
		switch {
		case *fastSMA > *slowSMA && !holding:
			rt.Entry(domain.Long, sym, fraction, "sma cross up")
		case *fastSMA < *slowSMA && holding:
			for _, p := range rt.Ledger().OpenPositionsFor(sym) {
				rt.Exit(p.ID, "sma cross down")
			}
		}
	}
	return nil
}

// ─── rsi-reversion ──────────────────────────────────────────────────────

// RSIReversion buys oversold tickers and exits when they become overbought.
type RSIReversion struct {
	Base
}

// RSIReversionDescriptor registers the rsi-reversion strategy class.
func RSIReversionDescriptor() Descriptor {
	return Descriptor{
		Name:        "rsi-reversion",
		Description: "Enter long below the RSI floor, exit above the RSI ceiling.",
		Defaults:    Params{"length": 14, "buy_below": 30, "sell_above": 70},
		New: func(rt *Runtime) Strategy {
			return &RSIReversion{Base: NewBase(rt)}
		},
	}
}

func (s *RSIReversion) Name() string { return "rsi-reversion" }

func (s *RSIReversion) MaxLookback() int {
	return s.Runtime().Params().Int("length", 14) + 1
}

func (s *RSIReversion) OnClose(assets *series.Group, date string, live bool) error {
	rt := s.Runtime()
	length := rt.Params().Int("length", 14)
	buyBelow := rt.Params().Float("buy_below", 30)
	sellAbove := rt.Params().Float("sell_above", 70)
	fraction := 1.0 / float64(assets.Len())

	for _, sym := range assets.Symbols() {
		closes := closesThrough(assets.Get(sym), date, length+1)
		if closes == nil {
			continue
		}
		rsi := formulas.RSI(closes, length)
		if rsi == nil {
			continue
		}

		holding := len(rt.Ledger().OpenPositionsFor(sym)) > 0
		switch {
		case *rsi < buyBelow && !holding:
			rt.Entry(domain.Long, sym, fraction, "rsi oversold")
		case *rsi > sellAbove && holding:
			for _, p := range rt.Ledger().OpenPositionsFor(sym) {
				rt.Exit(p.ID, "rsi overbought")
			}
		}
	}
	return nil
}

// ─── test-strategy ──────────────────────────────────────────────────────

// TestStrategy enters once as soon as `length` bars of history exist and
// holds to the end. Its single parameter makes optimization sweeps cheap to
// reason about: the entry date, and therefore the result, varies with length.
type TestStrategy struct {
	Base
}

// TestStrategyDescriptor registers the test strategy class.
func TestStrategyDescriptor() Descriptor {
	return Descriptor{
		Name:        "test-strategy",
		Description: "Enter after `length` bars of history and hold. Intended for sweeps and tests.",
		Defaults:    Params{"length": 50},
		New: func(rt *Runtime) Strategy {
			return &TestStrategy{Base: NewBase(rt)}
		},
	}
}

func (s *TestStrategy) Name() string { return "test-strategy" }

func (s *TestStrategy) MaxLookback() int {
	return s.Runtime().Params().Int("length", 50)
}

func (s *TestStrategy) OnClose(assets *series.Group, date string, live bool) error {
	rt := s.Runtime()
	if rt.VarBool("entered") {
		return nil
	}
	symbols := assets.Symbols()
	fraction := 1.0 / float64(len(symbols))
	for _, sym := range symbols {
		rt.Entry(domain.Long, sym, fraction, "test entry")
	}
	rt.Vars()["entered"] = true
	return nil
}
