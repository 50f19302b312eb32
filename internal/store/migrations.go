package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	// Create migrations table if it doesn't exist
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("Current schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE generation_runs (
					id TEXT PRIMARY KEY,
					source TEXT NOT NULL,
					filters TEXT NOT NULL DEFAULT '',
					start_time DATETIME NOT NULL,
					end_time DATETIME NOT NULL,
					records_total INTEGER DEFAULT 0,
					records_skipped INTEGER DEFAULT 0,
					records_matched INTEGER DEFAULT 0,
					mirrors_emitted INTEGER DEFAULT 0,
					output_path TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'running',
					error_message TEXT NOT NULL DEFAULT ''
				);

				CREATE INDEX idx_generation_runs_start ON generation_runs(start_time);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE skipped_records (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					record_index INTEGER NOT NULL,
					url TEXT NOT NULL DEFAULT '',
					stage TEXT NOT NULL,
					reason TEXT NOT NULL,
					FOREIGN KEY(run_id) REFERENCES generation_runs(id) ON DELETE CASCADE
				);

				CREATE INDEX idx_skipped_records_run ON skipped_records(run_id);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("Running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}

			s.logger.Info("Migration completed", "version", mig.version)
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	insertSQL := "INSERT INTO migrations (version) VALUES (?)"
	if _, err := tx.Exec(insertSQL, version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
