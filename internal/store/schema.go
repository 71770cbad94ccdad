package store

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    captured_at DATETIME NOT NULL,
    balances TEXT NOT NULL,
    prices TEXT NOT NULL,
    total_usd TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_captured_at ON snapshots(captured_at);

CREATE TABLE IF NOT EXISTS baselines (
    symbol TEXT PRIMARY KEY,
    qty TEXT NOT NULL,
    peak_usd TEXT NOT NULL,
    seeded_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    definition TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS approvals (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    side TEXT NOT NULL,
    symbol TEXT NOT NULL,
    qty TEXT NOT NULL,
    est_usd TEXT NOT NULL,
    status TEXT NOT NULL,
    requires_mfa INTEGER NOT NULL DEFAULT 0,
    decided_by TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);

CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    approval_id TEXT NOT NULL,
    side TEXT NOT NULL,
    symbol TEXT NOT NULL,
    qty TEXT NOT NULL,
    fill_price TEXT NOT NULL,
    dry_run INTEGER NOT NULL,
    success INTEGER NOT NULL,
    error TEXT,
    executed_at DATETIME NOT NULL,
    FOREIGN KEY(approval_id) REFERENCES approvals(id)
);
CREATE INDEX IF NOT EXISTS idx_executions_executed_at ON executions(executed_at);

CREATE TABLE IF NOT EXISTS alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    severity TEXT NOT NULL,
    source TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    actor TEXT NOT NULL,
    action TEXT NOT NULL,
    detail TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS kill_switch (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    engaged INTEGER NOT NULL DEFAULT 0,
    set_by TEXT NOT NULL DEFAULT 'owner',
    reason TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mfa_challenges (
    id TEXT PRIMARY KEY,
    approval_id TEXT NOT NULL,
    code TEXT NOT NULL,
    verified INTEGER NOT NULL DEFAULT 0,
    expires_at DATETIME NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_mfa_challenges_approval_id ON mfa_challenges(approval_id);

CREATE TABLE IF NOT EXISTS collateral_readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    health_ratio REAL NOT NULL,
    recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collateral_recorded_at ON collateral_readings(recorded_at);

CREATE TABLE IF NOT EXISTS preferences (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    preferred_symbols TEXT NOT NULL DEFAULT '[]',
    risk_appetite REAL NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// applyMigrations bootstraps the schema and runs small idempotent
// column additions for databases created by earlier versions.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if err := ensureColumn(db, "approvals", "decided_by", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(db, "rules", "enabled", "INTEGER NOT NULL DEFAULT 1"); err != nil {
		return err
	}
	if err := ensureColumn(db, "preferences", "profit_target_pct", "REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(db, "preferences", "approval_rate", "REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(db, "preferences", "favorite_symbol", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(db, "preferences", "confidence", "REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(db, "preferences", "sample_size", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	if _, err := db.Exec(`INSERT OR IGNORE INTO kill_switch (id, engaged, set_by) VALUES (1, 0, 'owner')`); err != nil {
		return fmt.Errorf("seed kill_switch row: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO preferences (id, preferred_symbols, risk_appetite) VALUES (1, '[]', 0)`); err != nil {
		return fmt.Errorf("seed preferences row: %w", err)
	}

	return nil
}

func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
