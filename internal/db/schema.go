package db

import (
	"database/sql"
	"fmt"
)

// schema holds everything the clinic service keeps on disk. Queue and
// inventory state live in memory and are not part of it.
const schema = `
CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
    id         INTEGER PRIMARY KEY,
    phone      TEXT NOT NULL,
    pin_hash   TEXT NOT NULL,
    role       TEXT NOT NULL DEFAULT 'patient' CHECK (role IN ('patient', 'staff', 'doctor', 'admin')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_phone_active
    ON accounts(phone) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS otp_challenges (
    phone      TEXT PRIMARY KEY,
    code_hash  TEXT NOT NULL,
    attempts   INTEGER NOT NULL DEFAULT 0,
    expires_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_changes (
    id            INTEGER PRIMARY KEY,
    medicine_id   TEXT NOT NULL,
    medicine_name TEXT NOT NULL,
    from_status   TEXT NOT NULL CHECK (from_status IN ('in_stock', 'low', 'out_of_stock')),
    to_status     TEXT NOT NULL CHECK (to_status IN ('in_stock', 'low', 'out_of_stock')),
    changed_by    TEXT,
    changed_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_stock_changes_changed_at
    ON stock_changes(changed_at);

CREATE TABLE IF NOT EXISTS medicine_images (
    medicine_id TEXT PRIMARY KEY,
    image       BLOB NOT NULL,
    image_mime  TEXT NOT NULL,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
