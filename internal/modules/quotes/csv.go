package quotes

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/avramidis/strategem/internal/domain"
)

// CSVSource reads bars from per-symbol files in a directory. Each file is
// named <SYMBOL>.csv with a header row and date,open,high,low,close,volume
// columns, oldest first or not; rows are validated and the store sorts.
type CSVSource struct {
	dir string
}

// NewCSVSource creates a file-backed source rooted at dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

// Name implements domain.QuoteSource.
func (s *CSVSource) Name() string { return "csv" }

// Fetch reads the symbol's file and returns its last nBars rows.
func (s *CSVSource) Fetch(ctx context.Context, symbol, exchange string, resolution domain.Resolution, nBars int) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NewError(domain.NoData, "no csv file for %s at %s", symbol, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 6
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, domain.NewError(domain.NoData, "empty csv file for %s", symbol)
	}

	start := 0
	if strings.EqualFold(records[0][0], "date") {
		start = 1
	}

	var bars []domain.Bar
	for i, rec := range records[start:] {
		bar, err := parseRow(rec)
		if err != nil {
			return nil, domain.WrapError(domain.InvalidInput, err, "%s row %d", path, start+i+1)
		}
		bars = append(bars, bar)
	}
	if nBars > 0 && len(bars) > nBars {
		bars = bars[len(bars)-nBars:]
	}
	return bars, nil
}

func parseRow(rec []string) (domain.Bar, error) {
	var bar domain.Bar
	bar.Date = strings.TrimSpace(rec[0])
	fields := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close}
	for i, dst := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return bar, fmt.Errorf("bad numeric field %q: %w", rec[i+1], err)
		}
		*dst = v
	}
	vol, err := strconv.ParseInt(strings.TrimSpace(rec[5]), 10, 64)
	if err != nil {
		return bar, fmt.Errorf("bad volume %q: %w", rec[5], err)
	}
	bar.Volume = vol
	return bar, bar.Validate()
}
