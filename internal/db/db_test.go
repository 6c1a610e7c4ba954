// Package db tests for database connection management.
package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fieldsync_db_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	db, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db, tmpDir
}

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	db, tmpDir := openTestDB(t)

	dbPath := filepath.Join(tmpDir, "fieldsync.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	var walMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&walMode); err != nil {
		t.Errorf("Failed to check WAL mode: %v", err)
	}
	if walMode != "wal" {
		t.Errorf("WAL mode not enabled, got: %s", walMode)
	}

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Errorf("Failed to check foreign keys: %v", err)
	}
	if fkEnabled != 1 {
		t.Errorf("Foreign keys not enabled, got: %d", fkEnabled)
	}
}

// TestInitSchema verifies the engine tables are created and idempotent.
func TestInitSchema(t *testing.T) {
	db, _ := openTestDB(t)

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	// Second run must be a no-op
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() second run failed: %v", err)
	}

	for _, table := range []string{"records", "sync_queue"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("Table %s not created: %v", table, err)
		}
	}
}

// TestWithTxRollsBackOnError verifies both statements of a failed transaction
// are discarded.
func TestWithTxRollsBackOnError(t *testing.T) {
	db, _ := openTestDB(t)
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(ctx context.Context) error {
		_, err := db.Q(ctx).ExecContext(ctx,
			"INSERT INTO records (id, updated_at) VALUES (?, ?)", "local-x", 1)
		if err != nil {
			t.Fatalf("Insert inside tx failed: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected rollback, found %d rows", count)
	}
}

// TestWithTxCommits verifies a successful transaction persists.
func TestWithTxCommits(t *testing.T) {
	db, _ := openTestDB(t)
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	ctx := context.Background()
	err := db.WithTx(ctx, func(ctx context.Context) error {
		_, err := db.Q(ctx).ExecContext(ctx,
			"INSERT INTO records (id, updated_at) VALUES (?, ?)", "local-x", 1)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 row, got %d", count)
	}
}
