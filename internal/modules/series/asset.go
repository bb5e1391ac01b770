// Package series implements the time series store: per-ticker ordered OHLCV
// bars with windowed reads and date-cursor iteration for strategy lookbacks.
package series

import (
	"sort"

	"github.com/avramidis/strategem/internal/domain"
)

// Asset is a named finite bar sequence, strictly increasing by date with no
// duplicates. The zero value is an empty asset.
type Asset struct {
	Ticker   string
	Exchange string
	bars     []domain.Bar
}

// NewAsset builds an asset from bars, sorting by date and de-duplicating.
// Later bars win on duplicate dates.
func NewAsset(ticker, exchange string, bars []domain.Bar) *Asset {
	a := &Asset{Ticker: ticker, Exchange: exchange}
	a.Append(bars)
	return a
}

// Len returns the number of bars.
func (a *Asset) Len() int { return len(a.bars) }

// Bars returns the full ordered bar slice. Callers must not mutate it.
func (a *Asset) Bars() []domain.Bar { return a.bars }

// Dates returns the ordered date list.
func (a *Asset) Dates() []string {
	out := make([]string, len(a.bars))
	for i, b := range a.bars {
		out[i] = b.Date
	}
	return out
}

// Append upserts bars into the sequence, idempotent on date. Newer values
// for an existing date replace the stored bar.
func (a *Asset) Append(bars []domain.Bar) {
	if len(bars) == 0 {
		return
	}
	byDate := make(map[string]domain.Bar, len(a.bars)+len(bars))
	for _, b := range a.bars {
		byDate[b.Date] = b
	}
	for _, b := range bars {
		byDate[b.Date] = b
	}
	merged := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date < merged[j].Date })
	a.bars = merged
}

// indexAtOrBefore returns the index of the latest bar with date <= the given
// date, or -1 when no such bar exists. Dates compare lexicographically in
// the canonical YYYY-MM-DD form.
func (a *Asset) indexAtOrBefore(date string) int {
	i := sort.Search(len(a.bars), func(i int) bool { return a.bars[i].Date > date })
	return i - 1
}

// LatestOnOrBefore returns the latest bar at or before the given date,
// or nil when the asset has no bar that early.
func (a *Asset) LatestOnOrBefore(date string) *domain.Bar {
	i := a.indexAtOrBefore(date)
	if i < 0 {
		return nil
	}
	b := a.bars[i]
	return &b
}

// BarOn returns the bar exactly on the given date, or nil.
func (a *Asset) BarOn(date string) *domain.Bar {
	i := a.indexAtOrBefore(date)
	if i < 0 || a.bars[i].Date != date {
		return nil
	}
	b := a.bars[i]
	return &b
}

// Cursor is a position within an asset's bar sequence, keyed by date.
type Cursor struct {
	asset *Asset
	index int // index of latest bar at or before the cursor date, -1 if none
	date  string
}

// CursorAt places a cursor on the given date.
func (a *Asset) CursorAt(date string) Cursor {
	return Cursor{asset: a, index: a.indexAtOrBefore(date), date: date}
}

// Date returns the cursor's date.
func (c Cursor) Date() string { return c.date }

// Bar returns the bar exactly on the cursor date, or nil when the ticker
// did not trade that day.
func (c Cursor) Bar() *domain.Bar {
	if c.index < 0 || c.asset.bars[c.index].Date != c.date {
		return nil
	}
	b := c.asset.bars[c.index]
	return &b
}

// Latest returns the latest bar at or before the cursor date, or nil.
func (c Cursor) Latest() *domain.Bar {
	if c.index < 0 {
		return nil
	}
	b := c.asset.bars[c.index]
	return &b
}

// PrefixBefore returns at most n bars strictly before the cursor, oldest
// first. Strategies read indicator lookbacks through this.
func (c Cursor) PrefixBefore(n int) []domain.Bar {
	end := c.index
	if c.index >= 0 && c.asset.bars[c.index].Date == c.date {
		end = c.index // bars[0:index] excludes the current date's bar
	} else {
		end = c.index + 1
	}
	if end <= 0 || n <= 0 {
		return nil
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	out := make([]domain.Bar, end-start)
	copy(out, c.asset.bars[start:end])
	return out
}

// HistoryDepth returns the number of bars strictly before the cursor date.
func (c Cursor) HistoryDepth() int {
	if c.index < 0 {
		return 0
	}
	if c.asset.bars[c.index].Date == c.date {
		return c.index
	}
	return c.index + 1
}
