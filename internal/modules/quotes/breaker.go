package quotes

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/avramidis/strategem/internal/domain"
)

// BreakerSettings configures the quote source circuit breaker.
type BreakerSettings struct {
	MaxRequests  uint32        // requests allowed when half-open
	Interval     time.Duration // counter reset interval
	Timeout      time.Duration // open duration before half-open
	MinRequests  uint32        // minimum requests before tripping
	FailureRatio float64       // failure ratio that trips the breaker
}

// DefaultBreakerSettings suits a nightly batch update: trip quickly, back
// off for half a minute.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// BreakerSource wraps a quote source with a circuit breaker so a failing
// upstream stops being hammered mid-update and the remaining tickers fail
// fast instead of timing out one by one.
type BreakerSource struct {
	inner   domain.QuoteSource
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerSource wraps a source with default settings.
func NewBreakerSource(inner domain.QuoteSource, log zerolog.Logger) *BreakerSource {
	return NewBreakerSourceWithSettings(inner, DefaultBreakerSettings(), log)
}

// NewBreakerSourceWithSettings wraps a source with custom settings.
func NewBreakerSourceWithSettings(inner domain.QuoteSource, settings BreakerSettings, log zerolog.Logger) *BreakerSource {
	blog := log.With().Str("component", "quote_breaker").Str("source", inner.Name()).Logger()
	return &BreakerSource{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        inner.Name(),
			MaxRequests: settings.MaxRequests,
			Interval:    settings.Interval,
			Timeout:     settings.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < settings.MinRequests {
					return false
				}
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= settings.FailureRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				blog.Warn().Str("from", from.String()).Str("to", to.String()).
					Msg("Quote source breaker state changed")
			},
		}),
	}
}

// Name implements domain.QuoteSource, keeping the wrapped source's name so
// ticker records resolve to the guarded instance transparently.
func (b *BreakerSource) Name() string { return b.inner.Name() }

// Fetch implements domain.QuoteSource through the breaker.
func (b *BreakerSource) Fetch(ctx context.Context, symbol, exchange string, resolution domain.Resolution, nBars int) ([]domain.Bar, error) {
	res, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Fetch(ctx, symbol, exchange, resolution, nBars)
	})
	if err != nil {
		return nil, err
	}
	bars, ok := res.([]domain.Bar)
	if !ok {
		return nil, fmt.Errorf("quote breaker: unexpected result type %T", res)
	}
	return bars, nil
}

// State exposes the breaker state for health reporting.
func (b *BreakerSource) State() gobreaker.State { return b.breaker.State() }
