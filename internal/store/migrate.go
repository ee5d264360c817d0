package store

import (
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// migration is one schema step. Statements must be idempotent DDL so a
// crash between commit and the version stamp only re-runs the step.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied in order; PRAGMA user_version holds the last
// applied Version.
var migrations = []migration{
	{
		Version:     1,
		Description: "ledger tables",
		SQL:         schemaSQL,
	},
	{
		Version:     2,
		Description: "failure lookup index",
		SQL: `CREATE INDEX IF NOT EXISTS idx_failures_user_created
			ON failures(user_id, created_at, id)`,
	},
}

func latestVersion() int {
	return migrations[len(migrations)-1].Version
}

func schemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func migrate(db *sql.DB) error {
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if current > latestVersion() {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, latestVersion())
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			return fmt.Errorf("set user_version %d: %w", m.Version, err)
		}
	}
	return nil
}
