package quotes

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramidis/strategem/internal/domain"
)

func fixedClock() func() time.Time {
	// A Saturday; the last weekday is Friday 2024-03-15.
	return func() time.Time { return time.Date(2024, 3, 16, 12, 0, 0, 0, time.UTC) }
}

func TestStubSourceIsDeterministic(t *testing.T) {
	s := &StubSource{Now: fixedClock()}

	a, err := s.Fetch(context.Background(), "AAPL", "", domain.Daily, 50)
	require.NoError(t, err)
	b, err := s.Fetch(context.Background(), "AAPL", "", domain.Daily, 50)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same symbol always yields the same series")

	c, err := s.Fetch(context.Background(), "MSFT", "", domain.Daily, 50)
	require.NoError(t, err)
	assert.NotEqual(t, a[0].Close, c[0].Close, "different symbols diverge")
}

func TestStubSourceSkipsWeekends(t *testing.T) {
	s := &StubSource{Now: fixedClock()}

	bars, err := s.Fetch(context.Background(), "AAPL", "", domain.Daily, 5)
	require.NoError(t, err)
	require.Len(t, bars, 5)

	// Monday through Friday of the week ending 2024-03-15.
	want := []string{"2024-03-11", "2024-03-12", "2024-03-13", "2024-03-14", "2024-03-15"}
	for i, b := range bars {
		assert.Equal(t, want[i], b.Date)
		require.NoError(t, b.Validate())
	}
}

func TestStubSourceValidation(t *testing.T) {
	s := &StubSource{Now: fixedClock()}

	_, err := s.Fetch(context.Background(), "AAPL", "", domain.Daily, 0)
	assert.True(t, domain.IsKind(err, domain.InvalidInput))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Fetch(ctx, "AAPL", "", domain.Daily, 5)
	assert.Error(t, err)
}

func writeCSV(t *testing.T, dir, symbol, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(content), 0644))
}

func TestCSVSourceReadsTailRows(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL", `date,open,high,low,close,volume
2024-01-02,100,105,99,104,1000
2024-01-03,104,110,103,109,1100
2024-01-04,109,112,108,111,1200
`)
	s := NewCSVSource(dir)

	bars, err := s.Fetch(context.Background(), "AAPL", "", domain.Daily, 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-01-03", bars[0].Date)
	assert.Equal(t, 111.0, bars[1].Close)
	assert.Equal(t, int64(1200), bars[1].Volume)
}

func TestCSVSourceHeaderIsOptional(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "MSFT", "2024-01-02,50,51,49,50.5,900\n")
	s := NewCSVSource(dir)

	bars, err := s.Fetch(context.Background(), "MSFT", "", domain.Daily, 10)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 50.5, bars[0].Close)
}

func TestCSVSourceErrors(t *testing.T) {
	dir := t.TempDir()
	s := NewCSVSource(dir)

	_, err := s.Fetch(context.Background(), "GONE", "", domain.Daily, 5)
	assert.True(t, domain.IsKind(err, domain.NoData), "missing file: %v", err)

	writeCSV(t, dir, "BAD", "2024-01-02,abc,105,99,104,1000\n")
	_, err = s.Fetch(context.Background(), "BAD", "", domain.Daily, 5)
	assert.True(t, domain.IsKind(err, domain.InvalidInput), "bad numeric field: %v", err)
}

func TestSourceRegistry(t *testing.T) {
	r := NewSourceRegistry()
	r.Register(NewStubSource())
	r.Register(NewCSVSource(t.TempDir()))

	got, err := r.Get("stub")
	require.NoError(t, err)
	assert.Equal(t, "stub", got.Name())

	_, err = r.Get("unknown")
	assert.True(t, domain.IsKind(err, domain.InvalidInput))

	assert.Equal(t, []string{"csv", "stub"}, r.Names())
}

// failingSource fails every fetch; used to trip the breaker.
type failingSource struct{}

func (failingSource) Name() string { return "failing" }

func (failingSource) Fetch(context.Context, string, string, domain.Resolution, int) ([]domain.Bar, error) {
	return nil, errors.New("upstream down")
}

func TestBreakerTripsAfterRepeatedFailures(t *testing.T) {
	b := NewBreakerSourceWithSettings(failingSource{}, BreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  2,
		FailureRatio: 0.5,
	}, zerolog.Nop())

	assert.Equal(t, "failing", b.Name(), "the wrapper keeps the inner source name")
	assert.Equal(t, gobreaker.StateClosed, b.State())

	for i := 0; i < 2; i++ {
		_, err := b.Fetch(context.Background(), "AAPL", "", domain.Daily, 5)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Fetch(context.Background(), "AAPL", "", domain.Daily, 5)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState, "open breaker fails fast")
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	b := NewBreakerSource(&StubSource{Now: fixedClock()}, zerolog.Nop())

	bars, err := b.Fetch(context.Background(), "AAPL", "", domain.Daily, 5)
	require.NoError(t, err)
	assert.Len(t, bars, 5)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
