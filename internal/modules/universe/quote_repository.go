package universe

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/utils"
)

// QuoteRepository implements domain.QuoteRepo over SQLite. Dates are stored
// as unix midnight UTC integers so range scans stay index-friendly.
type QuoteRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewQuoteRepository creates a quote repository.
func NewQuoteRepository(db *sql.DB, log zerolog.Logger) *QuoteRepository {
	return &QuoteRepository{
		db:  db,
		log: log.With().Str("component", "quote_repo").Logger(),
	}
}

// BatchUpsert writes bars in one transaction. Re-inserting a (ticker, date)
// pair replaces the stored values, so refreshing overlapping history is safe.
func (r *QuoteRepository) BatchUpsert(tickerID int64, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin quote transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO quotes (ticker_id, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare quote upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, bar := range bars {
		if err := bar.Validate(); err != nil {
			return count, domain.WrapError(domain.InvalidInput, err, "bar for ticker %d", tickerID)
		}
		unix, err := utils.DateToUnix(bar.Date)
		if err != nil {
			return count, domain.WrapError(domain.InvalidInput, err, "bar date for ticker %d", tickerID)
		}
		if _, err := stmt.Exec(tickerID, unix, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
			return count, fmt.Errorf("failed to upsert quote %s for ticker %d: %w", bar.Date, tickerID, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit quote batch: %w", err)
	}
	r.log.Debug().Int64("ticker_id", tickerID).Int("bars", count).Msg("Upserted quote batch")
	return count, nil
}

// GetWindow returns bars within [from, to] inclusive, oldest first.
func (r *QuoteRepository) GetWindow(tickerID int64, from, to string) ([]domain.Bar, error) {
	fromUnix, err := utils.DateToUnix(from)
	if err != nil {
		return nil, domain.WrapError(domain.InvalidInput, err, "window start")
	}
	toUnix, err := utils.DateToUnix(to)
	if err != nil {
		return nil, domain.WrapError(domain.InvalidInput, err, "window end")
	}

	rows, err := r.db.Query(`
		SELECT date, open, high, low, close, volume
		FROM quotes
		WHERE ticker_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, tickerID, fromUnix, toUnix)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes for ticker %d: %w", tickerID, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		var unix int64
		if err := rows.Scan(&unix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan quote row: %w", err)
		}
		b.Date = utils.UnixToDate(unix)
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quotes: %w", err)
	}
	return bars, nil
}

// GetDateRange returns the first and last quoted dates for a ticker.
func (r *QuoteRepository) GetDateRange(tickerID int64) (string, string, bool, error) {
	var first, last sql.NullInt64
	err := r.db.QueryRow(`
		SELECT MIN(date), MAX(date) FROM quotes WHERE ticker_id = ?
	`, tickerID).Scan(&first, &last)
	if err != nil {
		return "", "", false, fmt.Errorf("failed to query quote range for ticker %d: %w", tickerID, err)
	}
	if !first.Valid || !last.Valid {
		return "", "", false, nil
	}
	return utils.UnixToDate(first.Int64), utils.UnixToDate(last.Int64), true, nil
}

// HasBarOn reports whether the ticker traded on the given date.
func (r *QuoteRepository) HasBarOn(tickerID int64, date string) (bool, error) {
	unix, err := utils.DateToUnix(date)
	if err != nil {
		return false, domain.WrapError(domain.InvalidInput, err, "bar date")
	}
	var one int
	err = r.db.QueryRow(`
		SELECT 1 FROM quotes WHERE ticker_id = ? AND date = ?
	`, tickerID, unix).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check bar for ticker %d on %s: %w", tickerID, date, err)
	}
	return true, nil
}

// Delete removes all quotes for a ticker.
func (r *QuoteRepository) Delete(tickerID int64) error {
	if _, err := r.db.Exec("DELETE FROM quotes WHERE ticker_id = ?", tickerID); err != nil {
		return fmt.Errorf("failed to delete quotes for ticker %d: %w", tickerID, err)
	}
	return nil
}

// AppendAudit records one quote update outcome for the ticker.
func (r *QuoteRepository) AppendAudit(tickerID int64, source string, barsAdded int, from, to string) error {
	var fromUnix, toUnix interface{}
	if from != "" {
		v, err := utils.DateToUnix(from)
		if err != nil {
			return domain.WrapError(domain.InvalidInput, err, "audit from date")
		}
		fromUnix = v
	}
	if to != "" {
		v, err := utils.DateToUnix(to)
		if err != nil {
			return domain.WrapError(domain.InvalidInput, err, "audit to date")
		}
		toUnix = v
	}
	_, err := r.db.Exec(`
		INSERT INTO ticker_audit (ticker_id, source, bars_added, from_date, to_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tickerID, source, barsAdded, fromUnix, toUnix, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to append audit for ticker %d: %w", tickerID, err)
	}
	return nil
}
