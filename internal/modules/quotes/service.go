package quotes

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/utils"
)

// UpdateStats summarizes one quote update pass.
type UpdateStats struct {
	Tickers  int `json:"tickers"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
	BarsSeen int `json:"bars_seen"`
}

// UpdateService refreshes stored quotes for the enabled ticker universe,
// fanning out per ticker with bounded concurrency. A ticker failure is
// recorded and the pass continues; the pass as a whole fails only on a
// persistence fault listing the universe.
type UpdateService struct {
	tickers     domain.TickerRepo
	quotes      domain.QuoteRepo
	registry    *SourceRegistry
	concurrency int
	log         zerolog.Logger
}

// NewUpdateService creates an update service. concurrency bounds the number
// of tickers fetched at once.
func NewUpdateService(tickers domain.TickerRepo, quotes domain.QuoteRepo,
	registry *SourceRegistry, concurrency int, log zerolog.Logger) *UpdateService {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &UpdateService{
		tickers:     tickers,
		quotes:      quotes,
		registry:    registry,
		concurrency: concurrency,
		log:         log.With().Str("component", "quote_update").Logger(),
	}
}

// UpdateAll refreshes quotes for every enabled ticker. force refetches the
// full backfill window instead of just the gap since the last stored date.
func (s *UpdateService) UpdateAll(ctx context.Context, force bool) (*UpdateStats, error) {
	tickers, err := s.tickers.GetEnabled()
	if err != nil {
		return nil, domain.WrapError(domain.PersistenceFault, err, "list enabled tickers")
	}
	return s.update(ctx, tickers, force)
}

// UpdateOne refreshes quotes for a single ticker by symbol.
func (s *UpdateService) UpdateOne(ctx context.Context, symbol string, force bool) (*UpdateStats, error) {
	t, err := s.tickers.GetBySymbol(symbol)
	if err != nil {
		return nil, domain.WrapError(domain.PersistenceFault, err, "load ticker %s", symbol)
	}
	if t == nil {
		return nil, domain.NewError(domain.InvalidInput, "unknown ticker %s", symbol)
	}
	return s.update(ctx, []domain.Ticker{*t}, force)
}

// UpdateByID refreshes quotes for a single ticker by id.
func (s *UpdateService) UpdateByID(ctx context.Context, tickerID int64, force bool) (*UpdateStats, error) {
	t, err := s.tickers.Get(tickerID)
	if err != nil {
		return nil, domain.WrapError(domain.PersistenceFault, err, "load ticker %d", tickerID)
	}
	if t == nil {
		return nil, domain.NewError(domain.InvalidInput, "unknown ticker %d", tickerID)
	}
	return s.update(ctx, []domain.Ticker{*t}, force)
}

func (s *UpdateService) update(ctx context.Context, tickers []domain.Ticker, force bool) (*UpdateStats, error) {
	stats := &UpdateStats{Tickers: len(tickers)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	start := time.Now()
	for _, t := range tickers {
		t := t
		g.Go(func() error {
			added, err := s.updateTicker(gctx, &t, force)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				s.log.Error().Err(err).Str("symbol", t.Symbol).Msg("Quote update failed for ticker")
				return nil // one ticker failing must not cancel the rest
			}
			stats.Updated++
			stats.BarsSeen += added
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	s.log.Info().Int("tickers", stats.Tickers).Int("updated", stats.Updated).
		Int("failed", stats.Failed).Int("bars", stats.BarsSeen).
		Dur("elapsed", time.Since(start)).Msg("Quote update pass complete")
	return stats, nil
}

// updateTicker fetches enough bars to cover the gap since the ticker's last
// stored date, upserts them and appends an audit row. force always fetches
// the full backfill window.
func (s *UpdateService) updateTicker(ctx context.Context, t *domain.Ticker, force bool) (int, error) {
	source, err := s.registry.Get(t.Source)
	if err != nil {
		return 0, err
	}

	_, last, ok, err := s.quotes.GetDateRange(t.ID)
	if err != nil {
		return 0, domain.WrapError(domain.PersistenceFault, err, "quote range for %s", t.Symbol)
	}

	// A fresh ticker backfills a generous window; an existing one fetches
	// the gap plus overlap so revised bars get replaced.
	nBars := 2500
	if ok && !force {
		gap := calendarDaysSince(last)
		nBars = gap + 10
	}

	bars, err := source.Fetch(ctx, t.Symbol, t.Exchange, domain.Daily, nBars)
	if err != nil {
		return 0, domain.WrapError(domain.PersistenceFault, err, "fetch %s from %s", t.Symbol, t.Source)
	}
	if len(bars) == 0 {
		return 0, nil
	}

	added, err := s.quotes.BatchUpsert(t.ID, bars)
	if err != nil {
		return added, err
	}
	if err := s.quotes.AppendAudit(t.ID, t.Source, added, bars[0].Date, bars[len(bars)-1].Date); err != nil {
		return added, err
	}
	return added, nil
}

func calendarDaysSince(date string) int {
	t, err := utils.ParseDate(date)
	if err != nil {
		return 30
	}
	days := int(time.Since(t).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days
}
