package sqlite

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest schema version supported by the migrator.
const SchemaVersion = 1

// Migrate ensures the SQLite schema exists and is upgraded to SchemaVersion.
func Migrate(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}

	if current >= SchemaVersion {
		return nil
	}

	transaction, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() {
		_ = transaction.Rollback()
	}()

	_, err = transaction.Exec(`
		CREATE TABLE IF NOT EXISTS productions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			scenario TEXT NOT NULL,
			active_turn_id TEXT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create productions table: %w", err)
	}

	_, err = transaction.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			production_id TEXT NOT NULL,
			parent_id TEXT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '{}',
			is_directive INTEGER NOT NULL DEFAULT 0,
			sending_persona_id TEXT NULL,
			receiving_assistant_id TEXT NULL,
			assistant_id TEXT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY(production_id) REFERENCES productions(id) ON DELETE CASCADE,
			FOREIGN KEY(parent_id) REFERENCES turns(id) ON DELETE CASCADE
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create turns table: %w", err)
	}

	_, err = transaction.Exec(`
		CREATE TABLE IF NOT EXISTS assistants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			persona TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			endpoint TEXT NULL,
			temperature REAL NULL,
			max_tokens INTEGER NULL,
			created_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create assistants table: %w", err)
	}

	_, err = transaction.Exec(`CREATE INDEX IF NOT EXISTS idx_turns_production_created ON turns(production_id, created_at, id);`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_turns_production_created: %w", err)
	}

	_, err = transaction.Exec(`CREATE INDEX IF NOT EXISTS idx_turns_parent ON turns(parent_id);`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_turns_parent: %w", err)
	}

	_, err = transaction.Exec(`INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("migrate: record schema version: %w", err)
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("migrate: commit transaction: %w", err)
	}

	return nil
}
