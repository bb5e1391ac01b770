package ledger

import (
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/avramidis/strategem/internal/domain"
)

// ProfitFactorCap is the sentinel reported when gross loss is zero with
// positive gross profit. Kept identical in human and JSON output.
const ProfitFactorCap = 999999.0

// Statistics is the performance summary computed over the closed-trade log
// and the capital series.
type Statistics struct {
	NetProfit        float64
	NetProfitPercent float64

	GrossProfit      float64
	GrossLoss        float64 // absolute value
	GrossProfitLong  float64
	GrossLossLong    float64
	GrossProfitShort float64
	GrossLossShort   float64

	TotalTransactions      int
	ProfitableTransactions int
	LosingTransactions     int
	BreakEvenTransactions  int // profit exactly zero; excluded from win rate

	ProfitFactor    float64
	AverageProfit   float64
	AverageWin      float64
	AverageLoss     float64 // absolute value
	LargestWin      float64
	LargestLoss     float64 // absolute value
	AverageBarsHeld float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int

	MaxDrawdownValue   float64
	MaxDrawdownPercent float64

	WinRate float64 // break-even trades excluded from numerator and denominator
}

// Compute derives statistics from the ledger's closed positions, capital
// series and drawdown series.
func (l *Ledger) Compute() Statistics {
	var s Statistics

	var wins, losses, profits, barsHeld []float64
	var consecWins, consecLosses int
	netProfit := decimal.Zero

	for _, p := range l.closed {
		pnl := p.realizedPnL()
		netProfit = netProfit.Add(pnl)
		f, _ := pnl.Float64()
		profits = append(profits, f)
		barsHeld = append(barsHeld, float64(p.CloseBar-p.OpenBar))

		switch {
		case pnl.IsPositive():
			s.ProfitableTransactions++
			wins = append(wins, f)
			s.GrossProfit += f
			if p.Side == domain.Short {
				s.GrossProfitShort += f
			} else {
				s.GrossProfitLong += f
			}
			consecWins++
			consecLosses = 0
		case pnl.IsNegative():
			s.LosingTransactions++
			losses = append(losses, -f)
			s.GrossLoss += -f
			if p.Side == domain.Short {
				s.GrossLossShort += -f
			} else {
				s.GrossLossLong += -f
			}
			consecLosses++
			consecWins = 0
		default:
			s.BreakEvenTransactions++
			consecWins = 0
			consecLosses = 0
		}
		if consecWins > s.MaxConsecutiveWins {
			s.MaxConsecutiveWins = consecWins
		}
		if consecLosses > s.MaxConsecutiveLosses {
			s.MaxConsecutiveLosses = consecLosses
		}
		if f > s.LargestWin {
			s.LargestWin = f
		}
		if -f > s.LargestLoss {
			s.LargestLoss = -f
		}
	}

	s.TotalTransactions = len(l.closed)
	s.NetProfit, _ = netProfit.Float64()
	if l.initialCapital.IsPositive() {
		pct, _ := netProfit.Div(l.initialCapital).Mul(decimal.NewFromInt(100)).Float64()
		s.NetProfitPercent = pct
	}

	if len(profits) > 0 {
		s.AverageProfit = stat.Mean(profits, nil)
		s.AverageBarsHeld = stat.Mean(barsHeld, nil)
	}
	if len(wins) > 0 {
		s.AverageWin = stat.Mean(wins, nil)
	}
	if len(losses) > 0 {
		s.AverageLoss = stat.Mean(losses, nil)
	}

	switch {
	case s.GrossLoss > 0:
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
		if s.ProfitFactor > ProfitFactorCap {
			s.ProfitFactor = ProfitFactorCap
		}
	case s.GrossProfit > 0:
		s.ProfitFactor = ProfitFactorCap
	default:
		s.ProfitFactor = 0
	}

	decided := s.ProfitableTransactions + s.LosingTransactions
	if decided > 0 {
		s.WinRate = float64(s.ProfitableTransactions) / float64(decided) * 100
	}

	for _, dd := range l.drawdowns {
		v, _ := dd.Value.Float64()
		if v > s.MaxDrawdownValue {
			s.MaxDrawdownValue = v
		}
		if dd.Percent > s.MaxDrawdownPercent {
			s.MaxDrawdownPercent = dd.Percent
		}
	}

	return s
}

// ToMap flattens statistics into the metric map persisted on run records
// and emitted in JSON output.
func (s Statistics) ToMap() map[string]float64 {
	return map[string]float64{
		"net_profit":              s.NetProfit,
		"net_profit_percent":      s.NetProfitPercent,
		"gross_profit":            s.GrossProfit,
		"gross_loss":              s.GrossLoss,
		"total_transactions":      float64(s.TotalTransactions),
		"profitable_transactions": float64(s.ProfitableTransactions),
		"losing_transactions":     float64(s.LosingTransactions),
		"profit_factor":           s.ProfitFactor,
		"average_profit":          s.AverageProfit,
		"average_win":             s.AverageWin,
		"average_loss":            s.AverageLoss,
		"largest_win":             s.LargestWin,
		"largest_loss":            s.LargestLoss,
		"average_bars_held":       s.AverageBarsHeld,
		"max_consecutive_wins":    float64(s.MaxConsecutiveWins),
		"max_consecutive_losses":  float64(s.MaxConsecutiveLosses),
		"max_drawdown_value":      s.MaxDrawdownValue,
		"max_drawdown_percent":    s.MaxDrawdownPercent,
		"win_rate":                s.WinRate,
	}
}
