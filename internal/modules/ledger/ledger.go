package ledger

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/avramidis/strategem/internal/domain"
)

// EquityPoint is one entry of the capital series.
type EquityPoint struct {
	Date   string
	Equity decimal.Decimal
}

// DrawdownPoint is peakEquity - currentEquity on one date.
type DrawdownPoint struct {
	Date    string
	Value   decimal.Decimal
	Percent float64
}

// Ledger tracks cash, open and closed positions, and the capital and
// drawdown series of one simulation. It is not safe for concurrent use;
// a simulation is strictly sequential.
type Ledger struct {
	initialCapital decimal.Decimal
	cash           decimal.Decimal
	open           map[string]*Position
	openOrder      []string
	closed         []*Position
	capital        []EquityPoint
	drawdowns      []DrawdownPoint
	peak           decimal.Decimal
	balanceAfter   []decimal.Decimal // balance after each close, parallel to closed
	barIndex       int
	log            zerolog.Logger
}

// New creates a ledger with the given starting capital.
func New(initialCapital decimal.Decimal, log zerolog.Logger) *Ledger {
	return &Ledger{
		initialCapital: initialCapital,
		cash:           initialCapital,
		open:           make(map[string]*Position),
		peak:           initialCapital,
		log:            log.With().Str("component", "ledger").Logger(),
	}
}

// SetBarIndex records the kernel's current bar index, used for the
// average-bars-in-trade statistic.
func (l *Ledger) SetBarIndex(i int) { l.barIndex = i }

// Cash returns available (unreserved) capital.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// InitialCapital returns the starting capital.
func (l *Ledger) InitialCapital() decimal.Decimal { return l.initialCapital }

// Equity returns cash plus the mark value of all open positions.
func (l *Ledger) Equity() decimal.Decimal {
	eq := l.cash
	for _, id := range l.openOrder {
		eq = eq.Add(l.open[id].markValue())
	}
	return eq
}

// OpenPositions returns open positions in open order.
func (l *Ledger) OpenPositions() []*Position {
	out := make([]*Position, 0, len(l.open))
	for _, id := range l.openOrder {
		out = append(out, l.open[id])
	}
	return out
}

// OpenPositionsFor returns open positions in the given ticker.
func (l *Ledger) OpenPositionsFor(ticker string) []*Position {
	var out []*Position
	for _, id := range l.openOrder {
		if l.open[id].Ticker == ticker {
			out = append(out, l.open[id])
		}
	}
	return out
}

// ClosedPositions returns the closed-trade log in close order.
func (l *Ledger) ClosedPositions() []*Position { return l.closed }

// OpenPosition validates and opens a position, reserving price x quantity
// of cash. Fails with InvalidInput on non-positive inputs or insufficient cash.
func (l *Ledger) OpenPosition(side domain.Side, ticker string, price, quantity decimal.Decimal, date, comment string) (*Position, error) {
	if !quantity.IsPositive() {
		return nil, domain.NewError(domain.InvalidInput, "quantity must be positive, got %s", quantity)
	}
	if !price.IsPositive() {
		return nil, domain.NewError(domain.InvalidInput, "price must be positive, got %s", price)
	}
	cost := price.Mul(quantity)
	if cost.GreaterThan(l.cash) {
		return nil, domain.NewError(domain.InvalidInput,
			"insufficient cash: need %s, have %s", cost, l.cash)
	}

	p := newPosition(side, ticker, price, quantity, date, l.barIndex, comment)
	l.cash = l.cash.Sub(cost)
	l.open[p.ID] = p
	l.openOrder = append(l.openOrder, p.ID)

	l.log.Debug().Str("ticker", ticker).Str("side", string(side)).
		Str("price", price.String()).Str("quantity", quantity.String()).
		Str("date", date).Msg("Opened position")
	return p, nil
}

// UpdateMarkToMarket reprices an open position.
func (l *Ledger) UpdateMarkToMarket(positionID string, price decimal.Decimal) error {
	p, ok := l.open[positionID]
	if !ok {
		return domain.NewError(domain.InvalidInput, "no open position %s", positionID)
	}
	p.markToMarket(price)
	return nil
}

// ClosePosition closes an open position at the given price, releasing the
// reserved cash plus P&L. Returns the realized P&L. Reopening is forbidden:
// the position leaves the open set permanently.
func (l *Ledger) ClosePosition(positionID string, price decimal.Decimal, date, comment string) (decimal.Decimal, error) {
	p, ok := l.open[positionID]
	if !ok {
		return decimal.Zero, domain.NewError(domain.InvalidInput, "no open position %s", positionID)
	}
	if !price.IsPositive() {
		return decimal.Zero, domain.NewError(domain.InvalidInput, "close price must be positive, got %s", price)
	}

	p.markToMarket(price)
	p.Status = StatusClosed
	p.ClosePrice = price
	p.CloseSize = price.Mul(p.Quantity)
	p.CloseDate = date
	p.CloseBar = l.barIndex
	if comment != "" {
		p.Comment = comment
	}

	pnl := p.realizedPnL()
	l.cash = l.cash.Add(p.OpenSize).Add(pnl)

	delete(l.open, positionID)
	for i, id := range l.openOrder {
		if id == positionID {
			l.openOrder = append(l.openOrder[:i], l.openOrder[i+1:]...)
			break
		}
	}
	l.closed = append(l.closed, p)
	l.balanceAfter = append(l.balanceAfter, l.Equity())

	l.log.Debug().Str("ticker", p.Ticker).Str("pnl", pnl.String()).
		Str("date", date).Msg("Closed position")
	return pnl, nil
}

// CloseAll closes every open position using prices from the lookup, typically
// the current cursor close. Tickers without a price keep their last mark.
func (l *Ledger) CloseAll(priceFor func(ticker string) (decimal.Decimal, bool), date, comment string) error {
	ids := make([]string, len(l.openOrder))
	copy(ids, l.openOrder)
	for _, id := range ids {
		p := l.open[id]
		price, ok := priceFor(p.Ticker)
		if !ok {
			price = p.CurrentPrice
		}
		if _, err := l.ClosePosition(id, price, date, comment); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotEquity records (date, equity) into the capital series and
// recomputes peak and drawdown.
func (l *Ledger) SnapshotEquity(date string) {
	eq := l.Equity()
	l.capital = append(l.capital, EquityPoint{Date: date, Equity: eq})
	if eq.GreaterThan(l.peak) {
		l.peak = eq
	}
	dd := l.peak.Sub(eq)
	pct := 0.0
	if l.peak.IsPositive() {
		pct, _ = dd.Div(l.peak).Mul(decimal.NewFromInt(100)).Float64()
	}
	l.drawdowns = append(l.drawdowns, DrawdownPoint{Date: date, Value: dd, Percent: pct})
}

// CapitalSeries returns the recorded equity points.
func (l *Ledger) CapitalSeries() []EquityPoint { return l.capital }

// DrawdownSeries returns the recorded drawdown points.
func (l *Ledger) DrawdownSeries() []DrawdownPoint { return l.drawdowns }

// Restore reinstates cash and open positions from a snapshot. Used by the
// monitor state machine when resuming mid-stream.
func (l *Ledger) Restore(cash decimal.Decimal, positions []*Position) {
	l.cash = cash
	l.open = make(map[string]*Position, len(positions))
	l.openOrder = l.openOrder[:0]
	for _, p := range positions {
		l.open[p.ID] = p
		l.openOrder = append(l.openOrder, p.ID)
	}
	// Peak resumes from restored equity; the persisted drawdown series
	// already covers earlier dates.
	eq := l.Equity()
	if eq.GreaterThan(l.peak) {
		l.peak = eq
	}
}

// TradeLog converts the closed positions into ledger-view trade entries.
func (l *Ledger) TradeLog() []domain.TradeLogEntry {
	out := make([]domain.TradeLogEntry, 0, len(l.closed))
	for i, p := range l.closed {
		open, _ := p.OpenPrice.Float64()
		clo, _ := p.ClosePrice.Float64()
		qty, _ := p.Quantity.Float64()
		profit, _ := p.realizedPnL().Float64()
		bal, _ := l.balanceAfter[i].Float64()
		ddv, _ := p.DrawdownValue.Float64()
		out = append(out, domain.TradeLogEntry{
			Ticker:                  p.Ticker,
			Side:                    p.Side,
			OpenTime:                p.OpenDate,
			CloseTime:               p.CloseDate,
			OpenPrice:               open,
			ClosePrice:              clo,
			Quantity:                qty,
			Profit:                  profit,
			ProfitPercent:           p.ProfitPercent(),
			BalanceAfter:            bal,
			PositionDrawdownValue:   ddv,
			PositionDrawdownPercent: p.DrawdownPercent,
			Comment:                 p.Comment,
		})
	}
	return out
}
