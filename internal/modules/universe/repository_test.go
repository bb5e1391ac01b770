package universe

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramidis/strategem/internal/database"
	"github.com/avramidis/strategem/internal/domain"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "tickers.db"),
		Profile: database.ProfileStandard,
		Name:    "tickers",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db.Conn()
}

func quoteBar(date string, close float64) domain.Bar {
	return domain.Bar{Date: date, Open: close, High: close, Low: close, Close: close, Volume: 500}
}

func TestTickerCreateAndGet(t *testing.T) {
	repo := NewTickerRepository(testDB(t), zerolog.Nop())

	id, err := repo.Create(&domain.Ticker{Symbol: "AAPL", Exchange: "NASDAQ", Enabled: true})
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := repo.Get(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, "stub", got.Source, "source defaults to the stub provider")
	assert.True(t, got.Enabled)

	bySym, err := repo.GetBySymbol("AAPL")
	require.NoError(t, err)
	require.NotNil(t, bySym)
	assert.Equal(t, id, bySym.ID)
}

func TestTickerMissingReturnsNil(t *testing.T) {
	repo := NewTickerRepository(testDB(t), zerolog.Nop())

	got, err := repo.Get(99)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.GetBySymbol("NOPE")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTickerCreateRequiresSymbol(t *testing.T) {
	repo := NewTickerRepository(testDB(t), zerolog.Nop())
	_, err := repo.Create(&domain.Ticker{})
	assert.True(t, domain.IsKind(err, domain.InvalidInput))
}

func TestTickerListAndEnabledFilter(t *testing.T) {
	repo := NewTickerRepository(testDB(t), zerolog.Nop())
	_, err := repo.Create(&domain.Ticker{Symbol: "MSFT", Enabled: true})
	require.NoError(t, err)
	_, err = repo.Create(&domain.Ticker{Symbol: "AAPL", Enabled: false})
	require.NoError(t, err)

	all, err := repo.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "AAPL", all[0].Symbol, "listing orders by symbol")

	enabled, err := repo.GetEnabled()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "MSFT", enabled[0].Symbol)
}

func TestTickerUpdate(t *testing.T) {
	repo := NewTickerRepository(testDB(t), zerolog.Nop())
	id, err := repo.Create(&domain.Ticker{Symbol: "AAPL", Enabled: true})
	require.NoError(t, err)

	require.NoError(t, repo.Update(&domain.Ticker{ID: id, Symbol: "AAPL", Source: "csv", Enabled: false}))
	got, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "csv", got.Source)
	assert.False(t, got.Enabled)

	assert.True(t, domain.IsKind(repo.Update(&domain.Ticker{Symbol: "X"}), domain.InvalidInput))
}

func TestQuoteBatchUpsertAndWindow(t *testing.T) {
	db := testDB(t)
	tickers := NewTickerRepository(db, zerolog.Nop())
	quotes := NewQuoteRepository(db, zerolog.Nop())

	id, err := tickers.Create(&domain.Ticker{Symbol: "AAPL", Enabled: true})
	require.NoError(t, err)

	n, err := quotes.BatchUpsert(id, []domain.Bar{
		quoteBar("2024-01-02", 100),
		quoteBar("2024-01-03", 101),
		quoteBar("2024-01-04", 102),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Overlapping refresh replaces rather than duplicating.
	n, err = quotes.BatchUpsert(id, []domain.Bar{
		quoteBar("2024-01-04", 112),
		quoteBar("2024-01-05", 103),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	bars, err := quotes.GetWindow(id, "2024-01-03", "2024-01-05")
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, "2024-01-03", bars[0].Date)
	assert.Equal(t, 112.0, bars[1].Close, "re-insert replaces the stored bar")
}

func TestQuoteBatchUpsertRejectsInvalidBar(t *testing.T) {
	db := testDB(t)
	tickers := NewTickerRepository(db, zerolog.Nop())
	quotes := NewQuoteRepository(db, zerolog.Nop())
	id, err := tickers.Create(&domain.Ticker{Symbol: "AAPL", Enabled: true})
	require.NoError(t, err)

	bad := domain.Bar{Date: "2024-01-02", Open: 100, High: 90, Low: 95, Close: 100, Volume: 1}
	_, err = quotes.BatchUpsert(id, []domain.Bar{bad})
	assert.True(t, domain.IsKind(err, domain.InvalidInput), "got %v", err)
}

func TestQuoteDateRangeAndHasBarOn(t *testing.T) {
	db := testDB(t)
	tickers := NewTickerRepository(db, zerolog.Nop())
	quotes := NewQuoteRepository(db, zerolog.Nop())
	id, err := tickers.Create(&domain.Ticker{Symbol: "AAPL", Enabled: true})
	require.NoError(t, err)

	_, _, ok, err := quotes.GetDateRange(id)
	require.NoError(t, err)
	assert.False(t, ok, "no quotes yet")

	_, err = quotes.BatchUpsert(id, []domain.Bar{
		quoteBar("2024-01-02", 100),
		quoteBar("2024-01-05", 101),
	})
	require.NoError(t, err)

	first, last, ok, err := quotes.GetDateRange(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-01-02", first)
	assert.Equal(t, "2024-01-05", last)

	has, err := quotes.HasBarOn(id, "2024-01-05")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = quotes.HasBarOn(id, "2024-01-03")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestTickerDeleteCascadesQuotes(t *testing.T) {
	db := testDB(t)
	tickers := NewTickerRepository(db, zerolog.Nop())
	quotes := NewQuoteRepository(db, zerolog.Nop())
	id, err := tickers.Create(&domain.Ticker{Symbol: "AAPL", Enabled: true})
	require.NoError(t, err)
	_, err = quotes.BatchUpsert(id, []domain.Bar{quoteBar("2024-01-02", 100)})
	require.NoError(t, err)
	require.NoError(t, quotes.AppendAudit(id, "stub", 1, "2024-01-02", "2024-01-02"))

	require.NoError(t, tickers.Delete(id))

	bars, err := quotes.GetWindow(id, "2024-01-01", "2024-12-31")
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestAppendAuditWithoutDates(t *testing.T) {
	db := testDB(t)
	tickers := NewTickerRepository(db, zerolog.Nop())
	quotes := NewQuoteRepository(db, zerolog.Nop())
	id, err := tickers.Create(&domain.Ticker{Symbol: "AAPL", Enabled: true})
	require.NoError(t, err)

	// A failed update audits zero bars with no window.
	assert.NoError(t, quotes.AppendAudit(id, "stub", 0, "", ""))
}
