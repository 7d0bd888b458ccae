package storage

// sqlite.go — SQLite-backed ledger store (pure Go, no CGo).
//
// Schema changes go through the ordered migration list below, applied once at
// open and recorded in schema_migrations. Never ALTER tables ad hoc at
// startup: append a new migration instead.

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// migration is one named, idempotent schema step.
type migration struct {
	name string
	sql  string
}

// migrations must only ever be appended to. Names are unique and recorded in
// schema_migrations so reruns skip applied steps.
var migrations = []migration{
	{
		name: "001_estimates",
		sql: `
CREATE TABLE IF NOT EXISTS estimates (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    market_id       TEXT NOT NULL,
    probability_yes REAL NOT NULL,
    confidence      REAL NOT NULL,
    rationale       TEXT NOT NULL DEFAULT '',
    citations       TEXT NOT NULL DEFAULT '',
    rounds          INTEGER NOT NULL DEFAULT 0,
    created_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_estimates_market ON estimates(market_id, created_at DESC);`,
	},
	{
		name: "002_proposals",
		sql: `
CREATE TABLE IF NOT EXISTS proposals (
    id          TEXT PRIMARY KEY,
    market_id   TEXT NOT NULL,
    side        TEXT NOT NULL,
    stake       REAL NOT NULL,
    edge        REAL NOT NULL,
    apr         REAL NOT NULL,
    accepted    INTEGER NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL,
    research_id INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_proposals_market ON proposals(market_id, accepted, created_at DESC);`,
	},
	{
		name: "003_trades",
		sql: `
CREATE TABLE IF NOT EXISTS trades (
    id              TEXT PRIMARY KEY,
    market_id       TEXT NOT NULL,
    side            TEXT NOT NULL,
    kind            TEXT NOT NULL DEFAULT 'entry',
    stake           REAL NOT NULL,
    entry_price     REAL NOT NULL,
    pnl             REAL NOT NULL DEFAULT 0,
    timestamp       DATETIME NOT NULL,
    research_id     INTEGER NOT NULL DEFAULT 0,
    idempotency_key TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_idem ON trades(idempotency_key);
CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id, timestamp DESC);`,
	},
	{
		name: "004_positions",
		sql: `
CREATE TABLE IF NOT EXISTS positions (
    market_id      TEXT NOT NULL,
    side           TEXT NOT NULL,
    stake          REAL NOT NULL,
    entry_price    REAL NOT NULL,
    mark_price     REAL NOT NULL DEFAULT 0,
    unrealized_pnl REAL NOT NULL DEFAULT 0,
    status         TEXT NOT NULL DEFAULT 'open',
    version        INTEGER NOT NULL DEFAULT 1,
    opened_at      DATETIME NOT NULL,
    updated_at     DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open
    ON positions(market_id) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);`,
	},
}

// Ledger implements ports.Ledger on SQLite.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at the given DSN and applies
// pending migrations.
func Open(dsn string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.Open: open %q: %w", dsn, err)
	}
	// SQLite is single-writer; one connection avoids SQLITE_BUSY storms
	// within a process, busy_timeout makes contention with other processes
	// wait instead of erroring, and the version column guards the merge.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.Open: pragmas: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.Open: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
		    name       TEXT PRIMARY KEY,
		    applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return fmt.Errorf("migrate: create table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.Query(`SELECT name FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("migrate: read applied: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("migrate: scan: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate %s: begin: %w", m.name, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name) VALUES (?)`, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate %s: record: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate %s: commit: %w", m.name, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
