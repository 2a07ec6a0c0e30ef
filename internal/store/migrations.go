package store

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial cycle_runs table",
		SQL: `
CREATE TABLE IF NOT EXISTS cycle_runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    fetched_at DATETIME NOT NULL,
    bucket TEXT NOT NULL,
    visitor_count INTEGER,
    temperature REAL,
    weather_category TEXT,
    written BOOLEAN NOT NULL DEFAULT FALSE,
    duplicate BOOLEAN NOT NULL DEFAULT FALSE,
    count_error TEXT,
    weather_error TEXT,
    storage_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_cycle_runs_started ON cycle_runs(started_at);
`,
	},
	{
		Version:     2,
		Description: "Index cycle_runs by bucket",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_cycle_runs_bucket ON cycle_runs(bucket);
`,
	},
	{
		Version:     3,
		Description: "Add calendar context to cycle_runs",
		SQL: `
ALTER TABLE cycle_runs ADD COLUMN special_date_name TEXT;
`,
	},
}

// Migrate applies every migration not yet recorded in schema_migrations.
func (a *Audit) Migrate() error {
	if err := a.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := a.appliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		a.logger.Info("migrations: applying", zap.Int("version", m.Version), zap.String("description", m.Description))

		tx, err := a.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (a *Audit) ensureMigrationsTable() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (a *Audit) appliedMigrations() (map[int]bool, error) {
	rows, err := a.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// MigrationVersion returns the highest applied migration, or 0.
func (a *Audit) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := a.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
