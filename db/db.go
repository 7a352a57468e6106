// Package db implements the per-project feature store on SQLite.
// Each project directory gets its own database file.
package db

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/featureforge/featureforge/config"
	"github.com/featureforge/featureforge/log"
)

var logger = log.GetLogger("DB")

// DatabaseFileName is the database file kept inside each project directory.
const DatabaseFileName = "features.sqlite"

// DB wraps a single project's database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the database for a project directory
// and runs pending migrations.
func Open(projectDir string) (*DB, error) {
	path := filepath.Join(projectDir, DatabaseFileName)

	// WAL mode, foreign keys, and a busy timeout for concurrent readers
	dsn := path + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{conn: conn, path: path}

	if err := d.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug().Str("path", path).Msg("database opened")
	return d, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// Transaction executes a function within a database transaction
func (d *DB) Transaction(fn func(*sql.Tx) error) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func logQuery(kind string, query string, params []any) {
	if !config.Get().DBLogQueries {
		return
	}
	logger.Debug().
		Str("kind", kind).
		Str("sql", query).
		Interface("params", params).
		Msg("db query")
}

// Select runs a SELECT query returning multiple rows.
// The scanner function is called for each row to map results.
func Select[T any](d *DB, query string, params []any, scanner func(*sql.Rows) (T, error)) ([]T, error) {
	logQuery("select", query, params)

	rows, err := d.conn.Query(query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []T
	for rows.Next() {
		item, err := scanner(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// SelectOne runs a SELECT query returning a single row (or nil if not found)
func SelectOne[T any](d *DB, query string, params []any, scanner func(*sql.Row) (T, error)) (*T, error) {
	logQuery("get", query, params)

	row := d.conn.QueryRow(query, params...)
	result, err := scanner(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// Run executes an INSERT/UPDATE/DELETE query
func (d *DB) Run(query string, params ...any) (sql.Result, error) {
	logQuery("run", query, params)
	return d.conn.Exec(query, params...)
}

// Count returns the result of a COUNT query
func (d *DB) Count(query string, params ...any) (int64, error) {
	logQuery("count", query, params)

	var count int64
	err := d.conn.QueryRow(query, params...).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}
