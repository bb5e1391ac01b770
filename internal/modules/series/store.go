package series

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/avramidis/strategem/internal/domain"
)

// Store reads assets out of the quote repository. Reads are snapshot
// consistent within a single call; the store never fabricates missing
// trading days.
type Store struct {
	quotes  domain.QuoteRepo
	tickers domain.TickerRepo
	log     zerolog.Logger
}

// NewStore creates a time series store over the persistence ports.
func NewStore(quotes domain.QuoteRepo, tickers domain.TickerRepo, log zerolog.Logger) *Store {
	return &Store{
		quotes:  quotes,
		tickers: tickers,
		log:     log.With().Str("component", "series_store").Logger(),
	}
}

// LoadWindow returns the asset's bars within [startDate, endDate], inclusive
// of endpoints when present. An empty asset (not an error) is returned when
// no data exists; callers treat that as NoData.
func (s *Store) LoadWindow(tickerID int64, startDate, endDate string) (*Asset, error) {
	t, err := s.tickers.Get(tickerID)
	if err != nil {
		return nil, domain.WrapError(domain.PersistenceFault, err, "load ticker %d", tickerID)
	}
	if t == nil {
		return nil, domain.NewError(domain.InvalidInput, "unknown ticker id %d", tickerID)
	}
	bars, err := s.quotes.GetWindow(tickerID, startDate, endDate)
	if err != nil {
		return nil, domain.WrapError(domain.PersistenceFault, err, "load quotes for %s", t.Symbol)
	}
	s.log.Debug().Str("symbol", t.Symbol).Int("bars", len(bars)).
		Str("from", startDate).Str("to", endDate).Msg("Loaded quote window")
	return NewAsset(t.Symbol, t.Exchange, bars), nil
}

// Group is the asset set one simulation operates on, keyed by ticker symbol.
type Group struct {
	assets  map[string]*Asset
	ordered []string // symbols in insertion order, for deterministic iteration
}

// NewGroup creates an empty asset group.
func NewGroup() *Group {
	return &Group{assets: make(map[string]*Asset)}
}

// Add registers an asset under its ticker symbol.
func (g *Group) Add(a *Asset) {
	if _, exists := g.assets[a.Ticker]; !exists {
		g.ordered = append(g.ordered, a.Ticker)
	}
	g.assets[a.Ticker] = a
}

// Get returns the asset for a symbol, or nil.
func (g *Group) Get(symbol string) *Asset { return g.assets[symbol] }

// Symbols returns ticker symbols in registration order.
func (g *Group) Symbols() []string { return g.ordered }

// Len returns the number of assets in the group.
func (g *Group) Len() int { return len(g.assets) }

// TotalBars sums bar counts across the group.
func (g *Group) TotalBars() int {
	n := 0
	for _, a := range g.assets {
		n += a.Len()
	}
	return n
}

// UnionDates returns the ordered union of bar dates across all assets within
// [startDate, endDate]. This is the date sequence the simulation kernel steps.
func (g *Group) UnionDates(startDate, endDate string) []string {
	seen := make(map[string]bool)
	for _, a := range g.assets {
		for _, d := range a.Dates() {
			if d >= startDate && d <= endDate {
				seen[d] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
