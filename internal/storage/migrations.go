package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Exclusion rules",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS color_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE COLLATE NOCASE,
					conditions TEXT NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_color_rules_active ON color_rules(is_active)`,
			}
			return execAll(tx, queries)
		},
	},
	{
		Version:     2,
		Description: "Rule audit log",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS rule_logs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					rule_id INTEGER NOT NULL,
					rule_name TEXT NOT NULL,
					action TEXT NOT NULL,
					details TEXT,
					actor TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_rule_logs_rule ON rule_logs(rule_id, created_at)`,
			}
			return execAll(tx, queries)
		},
	},
	{
		Version:     3,
		Description: "Processing session snapshots",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS color_sessions (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL DEFAULT '',
					source TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					rows_count INTEGER NOT NULL DEFAULT 0,
					snapshot TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_color_sessions_owner ON color_sessions(owner_id)`,
				`CREATE INDEX idx_color_sessions_updated ON color_sessions(updated_at)`,
			}
			return execAll(tx, queries)
		},
	},
	{
		Version:     4,
		Description: "Committed output history",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS color_outputs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					session_id TEXT NOT NULL UNIQUE,
					owner_id TEXT NOT NULL DEFAULT '',
					source TEXT NOT NULL DEFAULT '',
					total_rows INTEGER NOT NULL,
					parent_rows INTEGER NOT NULL,
					child_rows INTEGER NOT NULL,
					unique_keys INTEGER NOT NULL,
					deleted_count INTEGER NOT NULL,
					applied_rule_ids TEXT NOT NULL,
					committed_at DATETIME NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS committed_colors (
					output_id INTEGER NOT NULL,
					position INTEGER NOT NULL,
					message_id TEXT NOT NULL,
					security_key TEXT NOT NULL DEFAULT '',
					as_of_date DATETIME,
					rank_hint INTEGER NOT NULL,
					price TEXT,
					is_parent BOOLEAN NOT NULL,
					parent_id TEXT,
					child_count INTEGER NOT NULL,
					attributes TEXT,
					PRIMARY KEY (output_id, position),
					FOREIGN KEY (output_id) REFERENCES color_outputs(id) ON DELETE CASCADE
				)`,
				`CREATE INDEX idx_committed_colors_key ON committed_colors(security_key)`,
			}
			return execAll(tx, queries)
		},
	},
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// SchemaVersion returns the current schema version of the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate runs all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
