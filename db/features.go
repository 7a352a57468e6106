package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Feature represents a persisted feature row
type Feature struct {
	ID          int64    `json:"id"`
	Priority    int      `json:"priority"`
	Category    string   `json:"category"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
	Passes      bool     `json:"passes"`
	CreatedAt   int64    `json:"createdAt"`
}

// FeatureDefinition is a validated feature definition ready for insertion.
// A nil Priority means "assign the next free priority".
type FeatureDefinition struct {
	Name        string
	Description string
	Category    string
	Priority    *int
	Steps       []string
}

// CreateFeature inserts a new feature row and returns its ID.
// Priority resolution and the insert run in one transaction: when no priority
// is given, the row gets max(existing priority)+1, or 1 for an empty table.
// New features always start with passes=false.
func (d *DB) CreateFeature(def FeatureDefinition) (int64, error) {
	category := def.Category
	if category == "" {
		category = "General"
	}

	steps := def.Steps
	if steps == nil {
		steps = []string{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return 0, fmt.Errorf("failed to encode steps: %w", err)
	}

	var id int64
	err = d.Transaction(func(tx *sql.Tx) error {
		priority := 0
		if def.Priority != nil {
			priority = *def.Priority
		} else {
			var maxPriority sql.NullInt64
			if err := tx.QueryRow(`SELECT MAX(priority) FROM features`).Scan(&maxPriority); err != nil {
				return err
			}
			if maxPriority.Valid {
				priority = int(maxPriority.Int64) + 1
			} else {
				priority = 1
			}
		}

		result, err := tx.Exec(
			`INSERT INTO features (priority, category, name, description, steps, passes, created_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?)`,
			priority, category, def.Name, def.Description, string(stepsJSON), time.Now().Unix(),
		)
		if err != nil {
			return err
		}

		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		logger.Error().Err(err).Str("name", def.Name).Msg("failed to create feature")
		return 0, err
	}

	return id, nil
}

// GetFeature returns a single feature by ID, or nil if not found
func (d *DB) GetFeature(id int64) (*Feature, error) {
	return SelectOne(d,
		`SELECT id, priority, category, name, description, steps, passes, created_at
		 FROM features WHERE id = ?`,
		[]any{id},
		func(row *sql.Row) (Feature, error) {
			return scanFeature(row)
		},
	)
}

// ListFeatures returns all features ordered by priority
func (d *DB) ListFeatures() ([]Feature, error) {
	return Select(d,
		`SELECT id, priority, category, name, description, steps, passes, created_at
		 FROM features ORDER BY priority ASC, id ASC`,
		nil,
		func(rows *sql.Rows) (Feature, error) {
			return scanFeature(rows)
		},
	)
}

// DeleteFeature removes a feature row. It reports whether a row was deleted.
func (d *DB) DeleteFeature(id int64) (bool, error) {
	result, err := d.Run(`DELETE FROM features WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CountFeatures returns the number of feature rows
func (d *DB) CountFeatures() (int64, error) {
	return d.Count(`SELECT COUNT(*) FROM features`)
}

// MaxPriority returns the highest priority among existing features (0 when none)
func (d *DB) MaxPriority() (int, error) {
	result, err := SelectOne(d,
		`SELECT MAX(priority) FROM features WHERE priority IS NOT NULL`,
		nil,
		func(row *sql.Row) (int, error) {
			var p sql.NullInt64
			if err := row.Scan(&p); err != nil {
				return 0, err
			}
			return int(p.Int64), nil
		},
	)
	if err != nil {
		return 0, err
	}
	if result == nil {
		return 0, nil
	}
	return *result, nil
}

// scanFeature scans a row into a Feature
func scanFeature(row interface{ Scan(...any) error }) (Feature, error) {
	var f Feature
	var passes int
	var stepsJSON string
	err := row.Scan(
		&f.ID, &f.Priority, &f.Category, &f.Name, &f.Description,
		&stepsJSON, &passes, &f.CreatedAt,
	)
	if err != nil {
		return f, err
	}
	f.Passes = passes == 1
	if err := json.Unmarshal([]byte(stepsJSON), &f.Steps); err != nil {
		f.Steps = []string{}
	}
	if f.Steps == nil {
		f.Steps = []string{}
	}
	return f, nil
}
