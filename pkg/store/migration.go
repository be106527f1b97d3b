package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Schema version constants
const (
	// SchemaVersion1 creates the kv table holding the vault record
	SchemaVersion1 = 1
	// SchemaVersion2 adds the HTTP cache
	SchemaVersion2 = 2
	// SchemaVersion3 adds the offline write queue
	SchemaVersion3 = 3
	// SchemaVersion4 moves the audit trail into the database
	SchemaVersion4 = 4
	// CurrentSchemaVersion is the current schema version
	CurrentSchemaVersion = SchemaVersion4
)

// getSchemaVersion returns the stored schema version, 0 for a new database.
func getSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("store: failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("store: failed to get schema version: %w", err)
	}
	return version, nil
}

// migrateSchema applies every migration newer than the stored version.
func migrateSchema(db *sql.DB) error {
	version, err := getSchemaVersion(db)
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("store: database schema v%d is newer than supported v%d",
			version, CurrentSchemaVersion)
	}

	migrations := []struct {
		version int
		stmts   []string
	}{
		{SchemaVersion1, []string{`
			CREATE TABLE IF NOT EXISTS kv (
				key TEXT PRIMARY KEY,
				value BLOB NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
		}},
		{SchemaVersion2, []string{`
			CREATE TABLE IF NOT EXISTS cache_entries (
				partition TEXT NOT NULL,
				key TEXT NOT NULL,
				status_code INTEGER NOT NULL,
				header TEXT NOT NULL,
				body BLOB,
				cached_at INTEGER NOT NULL,
				last_access INTEGER NOT NULL,
				PRIMARY KEY (partition, key)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cache_lru ON cache_entries(partition, last_access)`,
		}},
		{SchemaVersion3, []string{`
			CREATE TABLE IF NOT EXISTS offline_queue (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				request_id TEXT NOT NULL UNIQUE,
				method TEXT NOT NULL,
				url TEXT NOT NULL,
				header TEXT NOT NULL,
				body BLOB,
				enqueued_at INTEGER NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT ''
			)`,
		}},
		{SchemaVersion4, []string{`
			CREATE TABLE IF NOT EXISTS audit_events (
				seq INTEGER PRIMARY KEY,
				ts INTEGER NOT NULL,
				op TEXT NOT NULL,
				data TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts)`,
		}},
	}

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		if err := applyMigration(db, m.version, m.stmts); err != nil {
			return fmt.Errorf("store: migration to v%d failed: %w", m.version, err)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, version int, stmts []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return tx.Commit()
}
