package storage

import (
	"database/sql"
	"fmt"
)

// MigrationVersion tracks the current database schema version.
const MigrationVersion = 1

// InitializeDatabase creates the audit schema and records applied migrations
// so later schema changes can be applied incrementally.
func InitializeDatabase(db *sql.DB) error {
	migrationsTable := `
	CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL UNIQUE,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := db.Exec(migrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to check migration version: %w", err)
	}

	if currentVersion < 1 {
		if err := applyMigration1(db); err != nil {
			return fmt.Errorf("failed to apply migration 1: %w", err)
		}
	}

	return nil
}

// applyMigration1 creates the audit_records table.
func applyMigration1(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// One row per node visit, append-only. id preserves arrival order.
	auditTable := `
	CREATE TABLE audit_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		tree_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		node_type TEXT NOT NULL,
		command_type TEXT NOT NULL,
		input TEXT,
		output TEXT,
		duration_ns INTEGER NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		recorded_at TEXT NOT NULL
	);`

	if _, err := tx.Exec(auditTable); err != nil {
		return fmt.Errorf("failed to create audit_records table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX idx_audit_records_request_id ON audit_records(request_id, id);",
		"CREATE INDEX idx_audit_records_tree_id ON audit_records(tree_id, id DESC);",
		"CREATE INDEX idx_audit_records_status ON audit_records(status);",
	}

	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create audit index: %w", err)
		}
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", 1); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}
