package db

import "fmt"

// schema holds the DDL for the two tables the engine owns. The records table
// is the Durable Local Store; sync_queue is the ordered mutation log. Indexes
// back the store's secondary lookups (owner, status, type) and the listing
// order (updated_at desc).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY CHECK(length(id) > 0),
		owner_id TEXT NOT NULL DEFAULT '',
		record_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		synced INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		payload BLOB
	);`,
	`CREATE INDEX IF NOT EXISTS idx_records_owner ON records(owner_id);`,
	`CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);`,
	`CREATE INDEX IF NOT EXISTS idx_records_type ON records(record_type);`,
	`CREATE INDEX IF NOT EXISTS idx_records_updated ON records(updated_at DESC);`,
	`CREATE TABLE IF NOT EXISTS sync_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL CHECK(length(record_id) > 0),
		action TEXT NOT NULL CHECK(action IN ('create','update','delete')),
		payload BLOB,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 8,
		next_retry_at INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','dead')),
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_queue_record ON sync_queue(record_id);`,
	`CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status, next_retry_at);`,
}

// InitSchema creates the engine's tables and indexes if missing.
func (db *DB) InitSchema() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return tx.Commit()
}
