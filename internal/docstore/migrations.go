package docstore

import (
	"database/sql"
	"fmt"
)

// migration is one versioned schema change, applied in a single
// transaction (spec §9 "Migration manager for C9").
type migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// migrations is the linear, ordered sequence the manager validates and
// advances through. Adding a migration means appending here with the next
// version number — never editing an already-shipped one.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create collections and schema_migrations",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE IF NOT EXISTS collections (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					database TEXT NOT NULL,
					name TEXT NOT NULL,
					created_at TEXT NOT NULL DEFAULT (datetime('now')),
					UNIQUE(database, name)
				)`,
				`CREATE TABLE IF NOT EXISTS _indexes (
					collection_id INTEGER NOT NULL,
					name TEXT NOT NULL,
					keys_json TEXT NOT NULL,
					"unique" INTEGER NOT NULL DEFAULT 0,
					PRIMARY KEY (collection_id, name)
				)`,
			}
			for _, s := range stmts {
				if _, err := tx.Exec(s); err != nil {
					return fmt.Errorf("migration 1: %w", err)
				}
			}
			return nil
		},
	},
}

// runMigrations validates the migration sequence is strictly increasing
// from 1 with no gaps, then applies any not yet recorded in
// schema_migrations, each inside its own transaction (spec §9).
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("docstore: creating schema_migrations: %w", err)
	}

	for i, m := range migrations {
		if m.Version != i+1 {
			return fmt.Errorf("docstore: migration sequence broken at index %d: got version %d, want %d", i, m.Version, i+1)
		}
	}

	var applied int
	for _, m := range migrations {
		row := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.Version)
		if err := row.Scan(&applied); err != nil {
			return fmt.Errorf("docstore: checking migration %d: %w", m.Version, err)
		}
		if applied > 0 {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("docstore: beginning migration %d: %w", m.Version, err)
		}
		if err := m.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("docstore: applying migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("docstore: recording migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("docstore: committing migration %d: %w", m.Version, err)
		}
	}
	return nil
}
