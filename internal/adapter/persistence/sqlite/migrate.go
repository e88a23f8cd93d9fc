package sqlite

import "database/sql"

// migrate creates the schema if it doesn't exist.
func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS interactions (
			id           TEXT PRIMARY KEY,
			prompt       TEXT NOT NULL,
			output       TEXT NOT NULL,
			embedding    BLOB,
			concepts     TEXT NOT NULL DEFAULT '[]',
			timestamp    TEXT NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 1,
			decay_factor REAL NOT NULL DEFAULT 1.0,
			tier         TEXT NOT NULL DEFAULT 'short-term'
		);

		CREATE INDEX IF NOT EXISTS idx_interactions_tier ON interactions(tier);
	`
	_, err := db.Exec(schema)
	return err
}
