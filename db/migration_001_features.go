package db

import "database/sql"

func init() {
	RegisterMigration(Migration{
		Version:     1,
		Description: "Create features table",
		Up:          migration001Features,
	})
}

func migration001Features(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE features (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			priority INTEGER NOT NULL,
			category TEXT NOT NULL DEFAULT 'General',
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			steps TEXT NOT NULL DEFAULT '[]',
			passes INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`CREATE INDEX idx_features_priority ON features(priority)`)
	return err
}
