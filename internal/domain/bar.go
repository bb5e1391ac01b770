// Package domain contains the pure types shared by all engine modules:
// OHLCV bars, position sides, persisted records and the error taxonomy.
// Nothing in this package depends on infrastructure.
package domain

import "fmt"

// Bar is one immutable OHLCV record for one ticker on one calendar date.
// Date uses the canonical YYYY-MM-DD representation.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// Validate checks the OHLC ordering invariants and volume sign.
func (b Bar) Validate() error {
	if b.Date == "" {
		return fmt.Errorf("bar has empty date")
	}
	if b.Low > b.Open || b.Low > b.Close || b.Low > b.High {
		return fmt.Errorf("bar %s: low %.8f above open/close/high", b.Date, b.Low)
	}
	if b.Open > b.High || b.Close > b.High {
		return fmt.Errorf("bar %s: open/close above high %.8f", b.Date, b.High)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s: negative volume %d", b.Date, b.Volume)
	}
	return nil
}

// Side is the direction of a position.
type Side string

const (
	// Long profits when price rises.
	Long Side = "long"
	// Short profits when price falls.
	Short Side = "short"
)

// Resolution is the bar interval the engine steps over.
type Resolution string

const (
	// Daily is the primary resolution.
	Daily Resolution = "daily"
	// Weekly collapses the date sequence to the last trading day of each week.
	Weekly Resolution = "weekly"
)
