// Package formulas holds the technical indicators the built-in strategy
// classes compute over closing-price series.
package formulas

import (
	"github.com/markcheno/go-talib"
)

// SMA returns the simple moving average over the trailing period, or nil
// when the series is shorter than the period.
func SMA(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}

	sma := talib.Sma(closes, period)
	return lastValid(sma)
}

// RSI returns the Relative Strength Index over the given length, or nil
// when the series is too short.
//
// RSI = 100 - (100 / (1 + RS)), RS = average gain / average loss over N bars.
func RSI(closes []float64, length int) *float64 {
	if length <= 0 || len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)
	return lastValid(rsi)
}

func lastValid(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if isNaN(v) {
		return nil
	}
	return &v
}

func isNaN(f float64) bool {
	return f != f
}
