package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trend_follower/internal/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS strategy_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT    NOT NULL,
	symbol      TEXT    NOT NULL,
	order_id    TEXT    NOT NULL DEFAULT '',
	bracket_id  TEXT    NOT NULL DEFAULT '',
	position_id TEXT    NOT NULL DEFAULT '',
	side        INTEGER NOT NULL DEFAULT 0,
	price       TEXT    NOT NULL DEFAULT '0',
	quantity    TEXT    NOT NULL DEFAULT '0',
	detail      TEXT    NOT NULL DEFAULT '',
	event_time  INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_strategy_events_symbol ON strategy_events (symbol, id);
`

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, ev core.StrategyEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO strategy_events
		(kind, symbol, order_id, bracket_id, position_id, side, price, quantity, detail, event_time, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		string(ev.Kind),
		ev.Symbol,
		ev.OrderID,
		ev.BracketID,
		ev.PositionID,
		int(ev.Side),
		ev.Price.String(),
		ev.Quantity.String(),
		ev.Detail,
		ev.Timestamp.UnixNano(),
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return tx.Commit()
}

// Events returns up to limit of the most recent events for symbol, oldest
// first. An empty symbol matches every instrument; limit <= 0 means all.
func (s *SQLiteStore) Events(ctx context.Context, symbol string, limit int) ([]core.StrategyEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT kind, symbol, order_id, bracket_id, position_id, side, price, quantity, detail, event_time
		FROM (
			SELECT * FROM strategy_events
			WHERE ? = '' OR symbol = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []core.StrategyEvent
	for rows.Next() {
		var (
			ev              core.StrategyEvent
			kind            string
			side            int
			price, quantity string
			eventTime       int64
		)
		if err := rows.Scan(&kind, &ev.Symbol, &ev.OrderID, &ev.BracketID, &ev.PositionID,
			&side, &price, &quantity, &ev.Detail, &eventTime); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Kind = core.StrategyEventKind(kind)
		ev.Side = core.OrderSide(side)
		if ev.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("corrupt price %q: %w", price, err)
		}
		if ev.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("corrupt quantity %q: %w", quantity, err)
		}
		ev.Timestamp = time.Unix(0, eventTime).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
