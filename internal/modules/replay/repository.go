package replay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/321barney/ai-trader-ts-sub000/internal/domain"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/portfolio"
)

// SessionRecord is a persisted session checkpoint as read back from storage
type SessionRecord struct {
	ID          string
	OwnerID     string
	Config      Config
	Status      Status
	CurrentTime time.Time
	StepCount   int
	Portfolio   portfolio.State
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionRepository persists session checkpoints. Writes are full upserts so
// a checkpoint is always self-consistent regardless of what was stored
// before.
type SessionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewSessionRepository(db *sql.DB, log zerolog.Logger) *SessionRepository {
	return &SessionRepository{db: db, log: log.With().Str("repository", "replay_sessions").Logger()}
}

// Save upserts one session checkpoint
func (r *SessionRepository) Save(ctx context.Context, view SessionView) error {
	configJSON, err := json.Marshal(view.Config)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}
	positionsJSON, err := json.Marshal(view.Portfolio.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO replay_sessions (
			id, owner_id, config_json, status, sim_time, step_count,
			cash, equity, realized_pnl, high_water_mark, max_drawdown,
			winning_trades, losing_trades, total_trades, positions_json,
			last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			sim_time = excluded.sim_time,
			step_count = excluded.step_count,
			cash = excluded.cash,
			equity = excluded.equity,
			realized_pnl = excluded.realized_pnl,
			high_water_mark = excluded.high_water_mark,
			max_drawdown = excluded.max_drawdown,
			winning_trades = excluded.winning_trades,
			losing_trades = excluded.losing_trades,
			total_trades = excluded.total_trades,
			positions_json = excluded.positions_json,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		view.ID, view.OwnerID, string(configJSON), string(view.Status),
		view.CurrentTime.UTC().Format(time.RFC3339), view.StepCount,
		view.Portfolio.Cash, view.Portfolio.Equity, view.Portfolio.RealizedPnL,
		view.Portfolio.HighWaterMark, view.Portfolio.MaxDrawdown,
		view.Portfolio.WinningTrades, view.Portfolio.LosingTrades, view.Portfolio.TotalTrades,
		string(positionsJSON), view.LastError,
		view.CreatedAt.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", view.ID, err)
	}
	return nil
}

// Get loads one checkpoint by session id
func (r *SessionRepository) Get(ctx context.Context, id string) (*SessionRecord, error) {
	row := r.db.QueryRowContext(ctx, selectSessionColumns+` WHERE id = ?`, id)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return rec, nil
}

// ListByStatus returns all checkpoints in the given state, oldest first
func (r *SessionRepository) ListByStatus(ctx context.Context, status Status) ([]*SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectSessionColumns+` WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list sessions by status %s: %w", status, err)
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteFinishedBefore removes COMPLETED and FAILED sessions last updated
// before the cutoff. The trade log and equity curve go with them through the
// foreign key cascade. Returns the number of sessions removed.
func (r *SessionRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM replay_sessions
		WHERE status IN (?, ?) AND updated_at < ?`,
		string(StatusCompleted), string(StatusFailed), cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("delete finished sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const selectSessionColumns = `
	SELECT id, owner_id, config_json, status, sim_time, step_count,
	       cash, equity, realized_pnl, high_water_mark, max_drawdown,
	       winning_trades, losing_trades, total_trades, positions_json,
	       last_error, created_at, updated_at
	FROM replay_sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var (
		rec                               SessionRecord
		configJSON, positionsJSON         string
		status, simTime, created, updated string
	)
	err := row.Scan(
		&rec.ID, &rec.OwnerID, &configJSON, &status, &simTime, &rec.StepCount,
		&rec.Portfolio.Cash, &rec.Portfolio.Equity, &rec.Portfolio.RealizedPnL,
		&rec.Portfolio.HighWaterMark, &rec.Portfolio.MaxDrawdown,
		&rec.Portfolio.WinningTrades, &rec.Portfolio.LosingTrades, &rec.Portfolio.TotalTrades,
		&positionsJSON, &rec.LastError, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(configJSON), &rec.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config for session %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(positionsJSON), &rec.Portfolio.Positions); err != nil {
		return nil, fmt.Errorf("unmarshal positions for session %s: %w", rec.ID, err)
	}
	rec.Status = Status(status)
	if rec.CurrentTime, err = time.Parse(time.RFC3339, simTime); err != nil {
		return nil, fmt.Errorf("parse sim_time for session %s: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return nil, fmt.Errorf("parse created_at for session %s: %w", rec.ID, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at for session %s: %w", rec.ID, err)
	}
	return &rec, nil
}

// TradeRepository persists the per-session trade log. Trade ids are unique,
// so re-inserting the full log on every checkpoint is idempotent.
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{db: db, log: log.With().Str("repository", "replay_trades").Logger()}
}

// SaveAll inserts any trades not yet persisted
func (r *TradeRepository) SaveAll(ctx context.Context, trades []portfolio.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trade tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO replay_trades (
			id, session_id, symbol, side, quantity, price,
			commission, realized_pnl, executed_at, reasoning
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare trade insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx,
			t.ID, t.SessionID, t.Symbol, string(t.Side), t.Quantity, t.Price,
			t.Commission, t.RealizedPnL, t.ExecutedAt.UTC().Format(time.RFC3339), t.Reasoning,
		); err != nil {
			return fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// ListBySession returns a session's trades in execution order
func (r *TradeRepository) ListBySession(ctx context.Context, sessionID string) ([]portfolio.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, symbol, side, quantity, price,
		       commission, realized_pnl, executed_at, reasoning
		FROM replay_trades
		WHERE session_id = ?
		ORDER BY executed_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list trades for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var trades []portfolio.Trade
	for rows.Next() {
		var (
			t          portfolio.Trade
			side, when string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Symbol, &side, &t.Quantity, &t.Price,
			&t.Commission, &t.RealizedPnL, &when, &t.Reasoning); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		if t.ExecutedAt, err = time.Parse(time.RFC3339, when); err != nil {
			return nil, fmt.Errorf("parse executed_at for trade %s: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// EquityRepository persists the per-step equity curve. The (session, step)
// primary key makes checkpoint re-inserts idempotent.
type EquityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewEquityRepository(db *sql.DB, log zerolog.Logger) *EquityRepository {
	return &EquityRepository{db: db, log: log.With().Str("repository", "replay_equity").Logger()}
}

// SaveAll inserts any equity samples not yet persisted
func (r *EquityRepository) SaveAll(ctx context.Context, sessionID string, points []EquityPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin equity tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO replay_equity (session_id, step, timestamp, equity)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare equity insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, sessionID, p.Step,
			p.Timestamp.UTC().Format(time.RFC3339), p.Equity); err != nil {
			return fmt.Errorf("insert equity point %d: %w", p.Step, err)
		}
	}
	return tx.Commit()
}

// Curve returns a session's equity samples in step order
func (r *EquityRepository) Curve(ctx context.Context, sessionID string) ([]EquityPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT step, timestamp, equity
		FROM replay_equity
		WHERE session_id = ?
		ORDER BY step`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load equity curve for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var points []EquityPoint
	for rows.Next() {
		var (
			p    EquityPoint
			when string
		)
		if err := rows.Scan(&p.Step, &when, &p.Equity); err != nil {
			return nil, fmt.Errorf("scan equity point: %w", err)
		}
		if p.Timestamp, err = time.Parse(time.RFC3339, when); err != nil {
			return nil, fmt.Errorf("parse equity timestamp: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
