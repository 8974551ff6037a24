package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HistoryProvider loads historical OHLCV data used to seed a temporal gate
// before a session starts.
type HistoryProvider interface {
	LoadHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string]Series, error)
}

// CandleRepository handles candle database operations and serves as the
// default HistoryProvider.
type CandleRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCandleRepository creates a new candle repository
func NewCandleRepository(db *sql.DB, log zerolog.Logger) *CandleRepository {
	return &CandleRepository{
		db:  db,
		log: log.With().Str("repo", "candle").Logger(),
	}
}

// SaveCandles inserts a batch of candles, ignoring duplicates on
// (symbol, timestamp) so re-ingesting an overlapping export is safe.
func (r *CandleRepository) SaveCandles(ctx context.Context, candles []Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin candle insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO candles
		(symbol, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare candle insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx,
			strings.ToUpper(strings.TrimSpace(c.Symbol)),
			c.Timestamp.UTC().Format(time.RFC3339),
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
		)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit candle insert: %w", err)
	}

	r.log.Debug().Int("count", len(candles)).Msg("Candles saved")
	return nil
}

// LoadHistory returns per-symbol candle series within [start, end],
// ordered by timestamp ascending.
func (r *CandleRepository) LoadHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string]Series, error) {
	result := make(map[string]Series, len(symbols))

	for _, symbol := range symbols {
		series, err := r.loadSymbol(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		result[symbol] = series
	}

	return result, nil
}

func (r *CandleRepository) loadSymbol(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	query := `
		SELECT symbol, timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, query,
		strings.ToUpper(strings.TrimSpace(symbol)),
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles for %s: %w", symbol, err)
	}
	defer rows.Close()

	var series Series
	for rows.Next() {
		var c Candle
		var ts string
		if err := rows.Scan(&c.Symbol, &ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Timestamp, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle timestamp %q: %w", ts, err)
		}
		series = append(series, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return series, nil
}

// CountForSymbol returns the number of stored candles for a symbol.
func (r *CandleRepository) CountForSymbol(ctx context.Context, symbol string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM candles WHERE symbol = ?",
		strings.ToUpper(strings.TrimSpace(symbol)),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count candles: %w", err)
	}
	return count, nil
}
