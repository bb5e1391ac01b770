// Package strategy defines the strategy contract the simulation kernel
// drives, the shared runtime concrete strategies embed, and the typed
// plugin registry that replaces directory scanning for strategy discovery.
package strategy

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/modules/ledger"
	"github.com/avramidis/strategem/internal/modules/series"
)

// Strategy is the capability set the kernel dispatches bar events to.
// Implementations embed *Runtime and override only the event methods they
// need. A strategy must tolerate being constructed, fed a prefix of history,
// then resumed mid-stream from a snapshot without observable difference
// from linear execution.
type Strategy interface {
	// Name returns the registered strategy class name.
	Name() string
	// MaxLookback is how many historical bars must be available before the
	// strategy may produce signals.
	MaxLookback() int
	// OnOpen is invoked at bar open. Pending signals queued by the prior
	// OnClose are executed by the kernel before this returns control.
	OnOpen(assets *series.Group, date string, live bool) error
	// OnClose is invoked at bar close with the current bar's OHLC visible.
	OnClose(assets *series.Group, date string, live bool) error
	// OnStrategyEnd runs cleanup after the final bar.
	OnStrategyEnd(assets *series.Group, date string, live bool) error
	// Runtime exposes the shared runtime for the kernel and monitors.
	Runtime() *Runtime
}

// Params is the strategy's tunable parameter map. The key set is fixed per
// strategy class; values are numeric or string scalars.
type Params map[string]interface{}

// Float reads a numeric parameter, tolerating the integer and string forms
// that JSON round-trips and CLI flags produce.
func (p Params) Float(name string, def float64) float64 {
	v, ok := p[name]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return def
}

// Int reads an integer parameter.
func (p Params) Int(name string, def int) int {
	return int(p.Float(name, float64(def)))
}

// String reads a string parameter.
func (p Params) String(name, def string) string {
	if v, ok := p[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return def
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// SignalKind discriminates queued strategy intents.
type SignalKind int

const (
	// SignalOpen opens a new position at the next executed open.
	SignalOpen SignalKind = iota
	// SignalClose closes one position by id.
	SignalClose
	// SignalCloseAll closes every open position.
	SignalCloseAll
)

// Signal is an intent recorded during OnClose, executed on a subsequent
// bar's open by the kernel.
type Signal struct {
	Kind         SignalKind
	Side         domain.Side
	Ticker       string
	CashFraction float64 // fraction of available cash to commit, (0, 1]
	PositionID   string
	Comment      string
}

// Runtime is the shared strategy state: ledger handle, logger, parameter
// map, the pending signal queue and the opaque variable store persisted in
// monitor snapshots.
type Runtime struct {
	Log    zerolog.Logger
	params Params

	// AllowSameBarOpen opts a strategy into executing signals queued during
	// OnOpen at the same bar's open price. The default policy defers all
	// signals to the next bar's open.
	AllowSameBarOpen bool

	led     *ledger.Ledger
	pending []Signal
	vars    map[string]interface{}
}

// NewRuntime creates a runtime with the merged parameter map.
func NewRuntime(params Params) *Runtime {
	return &Runtime{
		params: params,
		vars:   make(map[string]interface{}),
	}
}

// Bind attaches the ledger and logger before a simulation starts.
func (r *Runtime) Bind(led *ledger.Ledger, log zerolog.Logger) {
	r.led = led
	r.Log = log
}

// Params returns the strategy's parameter map.
func (r *Runtime) Params() Params { return r.params }

// Ledger returns the bound ledger.
func (r *Runtime) Ledger() *ledger.Ledger { return r.led }

// OpenPositions returns the strategy's current open position set.
func (r *Runtime) OpenPositions() []*ledger.Position {
	if r.led == nil {
		return nil
	}
	return r.led.OpenPositions()
}

// Entry queues an open signal committing the given fraction of available
// cash at the next executed open.
func (r *Runtime) Entry(side domain.Side, ticker string, cashFraction float64, comment string) {
	if cashFraction <= 0 || cashFraction > 1 {
		cashFraction = 1
	}
	r.pending = append(r.pending, Signal{
		Kind:         SignalOpen,
		Side:         side,
		Ticker:       ticker,
		CashFraction: cashFraction,
		Comment:      comment,
	})
}

// Exit queues a close signal for one position.
func (r *Runtime) Exit(positionID, comment string) {
	r.pending = append(r.pending, Signal{Kind: SignalClose, PositionID: positionID, Comment: comment})
}

// ExitAll queues a close-all signal.
func (r *Runtime) ExitAll(comment string) {
	r.pending = append(r.pending, Signal{Kind: SignalCloseAll, Comment: comment})
}

// DrainSignals hands the queued signals to the kernel and clears the queue.
func (r *Runtime) DrainSignals() []Signal {
	out := r.pending
	r.pending = nil
	return out
}

// HasPending reports whether signals are queued.
func (r *Runtime) HasPending() bool { return len(r.pending) > 0 }

// Requeue puts a drained signal back for the next executed open. The kernel
// uses this when a ticker has no bar on the execution date.
func (r *Runtime) Requeue(sig Signal) {
	r.pending = append(r.pending, sig)
}

// PendingSignals returns a copy of the queued signals without draining them.
// Monitors persist this in snapshots so a resumed run executes signals queued
// at the cursor's close.
func (r *Runtime) PendingSignals() []Signal {
	if len(r.pending) == 0 {
		return nil
	}
	out := make([]Signal, len(r.pending))
	copy(out, r.pending)
	return out
}

// RestoreSignals reinstates a snapshot's pending queue.
func (r *Runtime) RestoreSignals(sigs []Signal) {
	r.pending = append([]Signal(nil), sigs...)
}

// Vars returns the opaque variable store. The core never interprets it;
// only the strategy reads and writes keys.
func (r *Runtime) Vars() map[string]interface{} { return r.vars }

// SetVars restores the variable store from a snapshot.
func (r *Runtime) SetVars(vars map[string]interface{}) {
	if vars == nil {
		vars = make(map[string]interface{})
	}
	r.vars = vars
}

// VarFloat reads a numeric strategy variable, tolerating the integer types
// snapshot serialization round-trips produce.
func (r *Runtime) VarFloat(name string, def float64) float64 {
	return Params(r.vars).Float(name, def)
}

// VarBool reads a boolean strategy variable.
func (r *Runtime) VarBool(name string) bool {
	v, ok := r.vars[name]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// QuantityFor sizes an order: fraction of available cash divided by price.
// Fractional quantities are allowed; the ledger accounts by size, not lots.
func (r *Runtime) QuantityFor(cashFraction float64, price decimal.Decimal) decimal.Decimal {
	if r.led == nil || !price.IsPositive() {
		return decimal.Zero
	}
	budget := r.led.Cash().Mul(decimal.NewFromFloat(cashFraction))
	return budget.Div(price)
}

// Base provides the no-op event defaults concrete strategies embed alongside
// the runtime, overriding only what they need.
type Base struct {
	rt *Runtime
}

// NewBase wraps a runtime.
func NewBase(rt *Runtime) Base { return Base{rt: rt} }

// Runtime returns the shared runtime.
func (b Base) Runtime() *Runtime { return b.rt }

// OnOpen is a no-op by default.
func (Base) OnOpen(*series.Group, string, bool) error { return nil }

// OnClose is a no-op by default.
func (Base) OnClose(*series.Group, string, bool) error { return nil }

// OnStrategyEnd queues a close-all; the kernel force-closes remaining
// positions at the final close regardless.
func (b Base) OnStrategyEnd(assets *series.Group, date string, live bool) error {
	b.rt.ExitAll("strategy end")
	return nil
}
