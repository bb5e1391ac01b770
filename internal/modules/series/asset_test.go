package series

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramidis/strategem/internal/domain"
)

func bar(date string, close float64) domain.Bar {
	return domain.Bar{Date: date, Open: close, High: close, Low: close, Close: close, Volume: 1000}
}

func TestNewAssetSortsAndDeduplicates(t *testing.T) {
	a := NewAsset("AAA", "NYSE", []domain.Bar{
		bar("2024-01-04", 104),
		bar("2024-01-02", 102),
		bar("2024-01-03", 103),
		bar("2024-01-02", 112), // later value wins
	})

	require.Equal(t, 3, a.Len())
	assert.Equal(t, []string{"2024-01-02", "2024-01-03", "2024-01-04"}, a.Dates())
	assert.Equal(t, 112.0, a.Bars()[0].Close)
}

func TestAppendIsIdempotent(t *testing.T) {
	a := NewAsset("AAA", "", []domain.Bar{bar("2024-01-02", 100)})
	a.Append([]domain.Bar{bar("2024-01-02", 100), bar("2024-01-03", 101)})
	a.Append([]domain.Bar{bar("2024-01-03", 101)})

	assert.Equal(t, 2, a.Len())
}

func TestBarOnAndLatestOnOrBefore(t *testing.T) {
	a := NewAsset("AAA", "", []domain.Bar{
		bar("2024-01-02", 100),
		bar("2024-01-04", 104),
	})

	require.NotNil(t, a.BarOn("2024-01-02"))
	assert.Nil(t, a.BarOn("2024-01-03"), "missing trading day must not be fabricated")

	latest := a.LatestOnOrBefore("2024-01-03")
	require.NotNil(t, latest)
	assert.Equal(t, "2024-01-02", latest.Date)
	assert.Nil(t, a.LatestOnOrBefore("2024-01-01"))
}

func TestCursorPrefixAndDepth(t *testing.T) {
	a := NewAsset("AAA", "", []domain.Bar{
		bar("2024-01-02", 100),
		bar("2024-01-03", 101),
		bar("2024-01-04", 102),
		bar("2024-01-05", 103),
	})

	c := a.CursorAt("2024-01-04")
	require.NotNil(t, c.Bar())
	assert.Equal(t, 2, c.HistoryDepth())

	prefix := c.PrefixBefore(2)
	require.Len(t, prefix, 2)
	assert.Equal(t, "2024-01-02", prefix[0].Date)
	assert.Equal(t, "2024-01-03", prefix[1].Date)

	// A lookback longer than history is truncated, not padded.
	assert.Len(t, c.PrefixBefore(10), 2)
}

func TestCursorOnNonTradingDate(t *testing.T) {
	a := NewAsset("AAA", "", []domain.Bar{
		bar("2024-01-02", 100),
		bar("2024-01-03", 101),
		bar("2024-01-05", 103),
	})

	c := a.CursorAt("2024-01-04")
	assert.Nil(t, c.Bar())
	require.NotNil(t, c.Latest())
	assert.Equal(t, "2024-01-03", c.Latest().Date)
	// Both existing bars precede the cursor date.
	assert.Equal(t, 2, c.HistoryDepth())
	assert.Len(t, c.PrefixBefore(5), 2)
}

func TestCursorBeforeFirstBar(t *testing.T) {
	a := NewAsset("AAA", "", []domain.Bar{bar("2024-01-05", 100)})

	c := a.CursorAt("2024-01-02")
	assert.Nil(t, c.Bar())
	assert.Nil(t, c.Latest())
	assert.Zero(t, c.HistoryDepth())
	assert.Empty(t, c.PrefixBefore(3))
}

func TestGroupUnionDates(t *testing.T) {
	g := NewGroup()
	g.Add(NewAsset("AAA", "", []domain.Bar{
		bar("2024-01-02", 100),
		bar("2024-01-04", 102),
	}))
	g.Add(NewAsset("BBB", "", []domain.Bar{
		bar("2024-01-03", 50),
		bar("2024-01-04", 51),
		bar("2024-01-08", 52),
	}))

	union := g.UnionDates("2024-01-02", "2024-01-05")
	assert.Equal(t, []string{"2024-01-02", "2024-01-03", "2024-01-04"}, union)
	assert.Equal(t, []string{"AAA", "BBB"}, g.Symbols())
	assert.Equal(t, 5, g.TotalBars())
}

func TestGroupAddReplacesWithoutReordering(t *testing.T) {
	g := NewGroup()
	g.Add(NewAsset("BBB", "", nil))
	g.Add(NewAsset("AAA", "", nil))
	g.Add(NewAsset("BBB", "", []domain.Bar{bar("2024-01-02", 10)}))

	assert.Equal(t, []string{"BBB", "AAA"}, g.Symbols())
	assert.Equal(t, 1, g.Get("BBB").Len())
	assert.Equal(t, 2, g.Len())
}
