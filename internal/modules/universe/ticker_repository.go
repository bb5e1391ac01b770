// Package universe holds the ticker and quote repositories backing the
// TickerRepo and QuoteRepo ports over the tickers database.
package universe

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramidis/strategem/internal/domain"
)

// TickerRepository implements domain.TickerRepo over SQLite.
type TickerRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTickerRepository creates a ticker repository.
func NewTickerRepository(db *sql.DB, log zerolog.Logger) *TickerRepository {
	return &TickerRepository{
		db:  db,
		log: log.With().Str("component", "ticker_repo").Logger(),
	}
}

// Create inserts a new ticker and returns its id.
func (r *TickerRepository) Create(t *domain.Ticker) (int64, error) {
	if t.Symbol == "" {
		return 0, domain.NewError(domain.InvalidInput, "ticker symbol is required")
	}
	if t.Source == "" {
		t.Source = "stub"
	}
	now := time.Now().Unix()
	res, err := r.db.Exec(`
		INSERT INTO tickers (symbol, exchange, source, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.Symbol, t.Exchange, t.Source, boolToInt(t.Enabled), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert ticker %s: %w", t.Symbol, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read ticker id: %w", err)
	}
	t.ID = id
	r.log.Info().Str("symbol", t.Symbol).Int64("id", id).Msg("Created ticker")
	return id, nil
}

// Get returns a ticker by id, or nil when not found.
func (r *TickerRepository) Get(id int64) (*domain.Ticker, error) {
	return r.scanOne(r.db.QueryRow(`
		SELECT id, symbol, exchange, source, enabled, created_at, updated_at
		FROM tickers WHERE id = ?
	`, id))
}

// GetBySymbol returns a ticker by its unique symbol, or nil when not found.
func (r *TickerRepository) GetBySymbol(symbol string) (*domain.Ticker, error) {
	return r.scanOne(r.db.QueryRow(`
		SELECT id, symbol, exchange, source, enabled, created_at, updated_at
		FROM tickers WHERE symbol = ?
	`, symbol))
}

// List returns all tickers ordered by symbol.
func (r *TickerRepository) List() ([]domain.Ticker, error) {
	return r.query(`
		SELECT id, symbol, exchange, source, enabled, created_at, updated_at
		FROM tickers ORDER BY symbol
	`)
}

// GetEnabled returns enabled tickers ordered by symbol.
func (r *TickerRepository) GetEnabled() ([]domain.Ticker, error) {
	return r.query(`
		SELECT id, symbol, exchange, source, enabled, created_at, updated_at
		FROM tickers WHERE enabled = 1 ORDER BY symbol
	`)
}

// Update rewrites a ticker's mutable fields.
func (r *TickerRepository) Update(t *domain.Ticker) error {
	if t.ID == 0 {
		return domain.NewError(domain.InvalidInput, "ticker id is required for update")
	}
	_, err := r.db.Exec(`
		UPDATE tickers SET symbol = ?, exchange = ?, source = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, t.Symbol, t.Exchange, t.Source, boolToInt(t.Enabled), time.Now().Unix(), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update ticker %d: %w", t.ID, err)
	}
	return nil
}

// Delete removes a ticker; quotes and audit rows cascade.
func (r *TickerRepository) Delete(id int64) error {
	if _, err := r.db.Exec("DELETE FROM tickers WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete ticker %d: %w", id, err)
	}
	r.log.Info().Int64("id", id).Msg("Deleted ticker with cascading quotes and audit")
	return nil
}

func (r *TickerRepository) scanOne(row *sql.Row) (*domain.Ticker, error) {
	var t domain.Ticker
	var enabled int
	var created, updated int64
	err := row.Scan(&t.ID, &t.Symbol, &t.Exchange, &t.Source, &enabled, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ticker: %w", err)
	}
	t.Enabled = enabled != 0
	t.CreatedAt = time.Unix(created, 0).UTC()
	t.UpdatedAt = time.Unix(updated, 0).UTC()
	return &t, nil
}

func (r *TickerRepository) query(q string, args ...interface{}) ([]domain.Ticker, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickers: %w", err)
	}
	defer rows.Close()

	var out []domain.Ticker
	for rows.Next() {
		var t domain.Ticker
		var enabled int
		var created, updated int64
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Exchange, &t.Source, &enabled, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan ticker row: %w", err)
		}
		t.Enabled = enabled != 0
		t.CreatedAt = time.Unix(created, 0).UTC()
		t.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickers: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
