package marketdata

import "database/sql"

// CandlesSchema holds historical OHLCV data ingested from exchange exports.
const CandlesSchema = `
CREATE TABLE IF NOT EXISTS candles (
    id INTEGER PRIMARY KEY,
    symbol TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    open REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    close REAL NOT NULL,
    volume REAL NOT NULL,
    UNIQUE(symbol, timestamp)
);

CREATE INDEX IF NOT EXISTS idx_candles_symbol_timestamp ON candles(symbol, timestamp);
`

// InitSchema ensures the candles table exists
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(CandlesSchema)
	return err
}
