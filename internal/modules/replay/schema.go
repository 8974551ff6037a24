package replay

import "database/sql"

// SessionsSchema persists session checkpoints plus the trade log and equity
// curve, enough to rebuild any session after a restart. The clock column is
// named sim_time because CURRENT_TIME is a reserved word in SQLite.
const SessionsSchema = `
CREATE TABLE IF NOT EXISTS replay_sessions (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    config_json TEXT NOT NULL,
    status TEXT NOT NULL,
    sim_time TEXT NOT NULL,
    step_count INTEGER NOT NULL DEFAULT 0,
    cash REAL NOT NULL,
    equity REAL NOT NULL,
    realized_pnl REAL NOT NULL DEFAULT 0,
    high_water_mark REAL NOT NULL,
    max_drawdown REAL NOT NULL DEFAULT 0,
    winning_trades INTEGER NOT NULL DEFAULT 0,
    losing_trades INTEGER NOT NULL DEFAULT 0,
    total_trades INTEGER NOT NULL DEFAULT 0,
    positions_json TEXT NOT NULL DEFAULT '[]',
    last_error TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_replay_sessions_status ON replay_sessions(status);

CREATE TABLE IF NOT EXISTS replay_trades (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES replay_sessions(id) ON DELETE CASCADE,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity REAL NOT NULL,
    price REAL NOT NULL,
    commission REAL NOT NULL DEFAULT 0,
    realized_pnl REAL NOT NULL DEFAULT 0,
    executed_at TEXT NOT NULL,
    reasoning TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_replay_trades_session ON replay_trades(session_id, executed_at);

CREATE TABLE IF NOT EXISTS replay_equity (
    session_id TEXT NOT NULL REFERENCES replay_sessions(id) ON DELETE CASCADE,
    step INTEGER NOT NULL,
    timestamp TEXT NOT NULL,
    equity REAL NOT NULL,
    PRIMARY KEY (session_id, step)
);
`

// InitSchema ensures the replay tables exist
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(SessionsSchema)
	return err
}
