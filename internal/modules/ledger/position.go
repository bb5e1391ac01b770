// Package ledger implements position lifecycle, capital accounting, the
// equity/drawdown series and the performance statistics computed over the
// closed-trade log. Money uses exact decimal arithmetic; indicators upstream
// use floats.
package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avramidis/strategem/internal/domain"
)

// PositionStatus is the lifecycle state of a position. A position is created
// open and transitions exactly once to closed.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// Position is one directional holding in a single ticker.
type Position struct {
	ID           string
	Ticker       string
	Side         domain.Side
	OpenPrice    decimal.Decimal
	Quantity     decimal.Decimal
	OpenSize     decimal.Decimal // OpenPrice * Quantity, the reserved cash
	CurrentPrice decimal.Decimal
	Status       PositionStatus
	ClosePrice   decimal.Decimal
	CloseSize    decimal.Decimal
	OpenDate     string
	CloseDate    string
	OpenBar      int
	CloseBar     int
	Comment      string

	// Worst adverse excursion while open, tracked at each mark-to-market.
	DrawdownValue   decimal.Decimal
	DrawdownPercent float64
}

func newPosition(side domain.Side, ticker string, price, quantity decimal.Decimal, date string, bar int, comment string) *Position {
	return &Position{
		ID:           uuid.NewString(),
		Ticker:       ticker,
		Side:         side,
		OpenPrice:    price,
		Quantity:     quantity,
		OpenSize:     price.Mul(quantity),
		CurrentPrice: price,
		Status:       StatusOpen,
		OpenDate:     date,
		OpenBar:      bar,
		Comment:      comment,
	}
}

// markValue is the position's contribution to equity at its current price.
// For shorts the reserved openSize plus the unrealized gain.
func (p *Position) markValue() decimal.Decimal {
	cur := p.CurrentPrice.Mul(p.Quantity)
	if p.Side == domain.Short {
		// openSize + (openSize - current)
		return p.OpenSize.Add(p.OpenSize.Sub(cur))
	}
	return cur
}

// unrealized returns the open P&L at the current price.
func (p *Position) unrealized() decimal.Decimal {
	return p.markValue().Sub(p.OpenSize)
}

// markToMarket updates the current price and the adverse-excursion tracking.
func (p *Position) markToMarket(price decimal.Decimal) {
	p.CurrentPrice = price
	loss := p.OpenSize.Sub(p.markValue())
	if loss.GreaterThan(p.DrawdownValue) {
		p.DrawdownValue = loss
		if p.OpenSize.IsPositive() {
			pct, _ := loss.Div(p.OpenSize).Mul(decimal.NewFromInt(100)).Float64()
			p.DrawdownPercent = pct
		}
	}
}

// realizedPnL returns closeSize - openSize with signs flipped for shorts.
func (p *Position) realizedPnL() decimal.Decimal {
	if p.Side == domain.Short {
		return p.OpenSize.Sub(p.CloseSize)
	}
	return p.CloseSize.Sub(p.OpenSize)
}

// ProfitPercent is closeSize/openSize x 100 - 100, sign flipped for shorts.
func (p *Position) ProfitPercent() float64 {
	if p.OpenSize.IsZero() {
		return 0
	}
	hundred := decimal.NewFromInt(100)
	pct := p.CloseSize.Div(p.OpenSize).Mul(hundred).Sub(hundred)
	if p.Side == domain.Short {
		pct = pct.Neg()
	}
	f, _ := pct.Float64()
	return f
}
