package db

import (
	"database/sql"
)

// MigrateUp creates the dead-letter schema. It is safe to run repeatedly.
func MigrateUp(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS integration_dead_letters (
    id               UUID PRIMARY KEY,
    integration_type VARCHAR(20) NOT NULL,
    message_id       TEXT NOT NULL DEFAULT '',
    organization_id  TEXT NOT NULL DEFAULT '',
    retry_count      INTEGER NOT NULL DEFAULT 0,
    cause            VARCHAR(32) NOT NULL,
    category         VARCHAR(32) NOT NULL DEFAULT '',
    reason           TEXT NOT NULL DEFAULT '',
    payload          BYTEA,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return err
	}

	indexes := []string{
		// Listing by type, newest first
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_type_created_at ON integration_dead_letters(integration_type, created_at DESC)`,
		// Retention purge
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_created_at ON integration_dead_letters(created_at)`,
		// Operator lookups by tenant
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_organization_id ON integration_dead_letters(organization_id)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	return nil
}

// MigrateDown drops the dead-letter schema.
// Use with caution: this deletes every stored dead letter.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP INDEX IF EXISTS idx_dead_letters_organization_id`,
		`DROP INDEX IF EXISTS idx_dead_letters_created_at`,
		`DROP INDEX IF EXISTS idx_dead_letters_type_created_at`,
		`DROP TABLE IF EXISTS integration_dead_letters`,
	}

	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
