package quotes

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/utils"
)

// StubSource generates deterministic synthetic bars: a random walk seeded by
// the symbol, skipping weekends. The same symbol always yields the same
// series, so simulations over stub data are reproducible.
type StubSource struct {
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewStubSource creates the synthetic source.
func NewStubSource() *StubSource {
	return &StubSource{Now: time.Now}
}

// Name implements domain.QuoteSource.
func (s *StubSource) Name() string { return "stub" }

// Fetch generates nBars weekday bars ending on the most recent weekday.
func (s *StubSource) Fetch(ctx context.Context, symbol, exchange string, resolution domain.Resolution, nBars int) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if nBars <= 0 {
		return nil, domain.NewError(domain.InvalidInput, "nBars must be positive, got %d", nBars)
	}

	h := fnv.New64a()
	h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	price := 20.0 + rng.Float64()*180.0
	end := lastWeekday(s.Now().UTC())
	dates := weekdaysEndingAt(end, nBars)

	bars := make([]domain.Bar, 0, len(dates))
	for _, date := range dates {
		open := price
		price = step(price, rng)
		high := maxf(open, price) * (1 + rng.Float64()*0.01)
		low := minf(open, price) * (1 - rng.Float64()*0.01)
		bars = append(bars, domain.Bar{
			Date:   date,
			Open:   round2(open),
			High:   round2(high),
			Low:    round2(low),
			Close:  round2(price),
			Volume: 100000 + rng.Int63n(900000),
		})
	}
	return bars, nil
}

func step(price float64, rng *rand.Rand) float64 {
	next := price * (1 + (rng.Float64()-0.495)*0.04)
	if next < 1 {
		next = 1
	}
	return next
}

func lastWeekday(t time.Time) time.Time {
	for !isWeekday(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func weekdaysEndingAt(end time.Time, n int) []string {
	out := make([]string, n)
	t := end
	for i := n - 1; i >= 0; i-- {
		out[i] = t.Format(utils.DateLayout)
		t = t.AddDate(0, 0, -1)
		for !isWeekday(t) {
			t = t.AddDate(0, 0, -1)
		}
	}
	return out
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
