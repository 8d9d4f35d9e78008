package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver for the local script store
)

// ScriptStore persists generated conversion scripts. The log is append-only:
// entries record every script an admin generated for a table, whether or not
// it was ever executed; only the re-run timestamp and author are ever
// updated. Unlike schema usage lookups, store failures are always propagated:
// silently losing audit history is unacceptable.
type ScriptStore interface {
	// RecordConversionLog inserts one log row and returns its id, creating
	// the log table first if needed.
	RecordConversionLog(ctx context.Context, table, columns, scriptText, runBy string) (int64, error)

	// ListSavedScripts returns every log entry, newest first.
	ListSavedScripts(ctx context.Context) ([]ConversionLogEntry, error)

	// GetSavedScript returns one entry by id.
	GetSavedScript(ctx context.Context, id int64) (ConversionLogEntry, error)

	// TouchScriptRun records a re-run timestamp and author without altering
	// the script text.
	TouchScriptRun(ctx context.Context, id int64, runBy string) error

	Close() error
}

// newScriptStore returns a ScriptStore for the configured backend: the MySQL
// server holding the target schema, or a local SQLite file for
// air-gapped/preview-only use.
func newScriptStore(cfg *Config, mysqlDB *sql.DB) (ScriptStore, error) {
	switch cfg.Audit.Storage {
	case "mysql":
		return &mysqlScriptStore{db: mysqlDB}, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.resolvePath(cfg.Audit.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("open sqlite script store: %w", err)
		}
		db.SetMaxOpenConns(1)
		return &sqliteScriptStore{db: db}, nil
	default:
		return nil, fmt.Errorf("unsupported audit storage %q (must be mysql or sqlite)", cfg.Audit.Storage)
	}
}

type mysqlScriptStore struct {
	db *sql.DB
}

func (s *mysqlScriptStore) ensureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversion_scripts (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
			table_name VARCHAR(255) NOT NULL,
			column_name VARCHAR(1024) NOT NULL,
			script_text MEDIUMTEXT NOT NULL,
			run_at DATETIME NOT NULL,
			run_by VARCHAR(255) NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure conversion_scripts table: %w", err)
	}
	return nil
}

func (s *mysqlScriptStore) RecordConversionLog(ctx context.Context, table, columns, scriptText, runBy string) (int64, error) {
	if err := s.ensureTable(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversion_scripts (table_name, column_name, script_text, run_at, run_by)
		 VALUES (?, ?, ?, ?, ?)`,
		table, columns, scriptText, time.Now().UTC(), runBy)
	if err != nil {
		return 0, fmt.Errorf("record conversion log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("conversion log id: %w", err)
	}
	return id, nil
}

func (s *mysqlScriptStore) ListSavedScripts(ctx context.Context) ([]ConversionLogEntry, error) {
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, table_name, column_name, script_text, run_at, run_by
		 FROM conversion_scripts ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list saved scripts: %w", err)
	}
	defer rows.Close()
	return scanLogEntries(rows)
}

func (s *mysqlScriptStore) GetSavedScript(ctx context.Context, id int64) (ConversionLogEntry, error) {
	if err := s.ensureTable(ctx); err != nil {
		return ConversionLogEntry{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, table_name, column_name, script_text, run_at, run_by
		 FROM conversion_scripts WHERE id = ?`, id)
	return scanLogEntry(row, id)
}

func (s *mysqlScriptStore) TouchScriptRun(ctx context.Context, id int64, runBy string) error {
	return touchScriptRun(ctx, s.db, id, runBy)
}

// Close is a no-op: the MySQL handle is shared with the planner and owned by
// the caller.
func (s *mysqlScriptStore) Close() error { return nil }

type sqliteScriptStore struct {
	db *sql.DB
}

func (s *sqliteScriptStore) ensureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversion_scripts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			script_text TEXT NOT NULL,
			run_at TIMESTAMP NOT NULL,
			run_by TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure conversion_scripts table: %w", err)
	}
	return nil
}

func (s *sqliteScriptStore) RecordConversionLog(ctx context.Context, table, columns, scriptText, runBy string) (int64, error) {
	if err := s.ensureTable(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversion_scripts (table_name, column_name, script_text, run_at, run_by)
		 VALUES (?, ?, ?, ?, ?)`,
		table, columns, scriptText, time.Now().UTC(), runBy)
	if err != nil {
		return 0, fmt.Errorf("record conversion log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("conversion log id: %w", err)
	}
	return id, nil
}

func (s *sqliteScriptStore) ListSavedScripts(ctx context.Context) ([]ConversionLogEntry, error) {
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, table_name, column_name, script_text, run_at, run_by
		 FROM conversion_scripts ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list saved scripts: %w", err)
	}
	defer rows.Close()
	return scanLogEntries(rows)
}

func (s *sqliteScriptStore) GetSavedScript(ctx context.Context, id int64) (ConversionLogEntry, error) {
	if err := s.ensureTable(ctx); err != nil {
		return ConversionLogEntry{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, table_name, column_name, script_text, run_at, run_by
		 FROM conversion_scripts WHERE id = ?`, id)
	return scanLogEntry(row, id)
}

func (s *sqliteScriptStore) TouchScriptRun(ctx context.Context, id int64, runBy string) error {
	return touchScriptRun(ctx, s.db, id, runBy)
}

func (s *sqliteScriptStore) Close() error { return s.db.Close() }

func scanLogEntries(rows *sql.Rows) ([]ConversionLogEntry, error) {
	var entries []ConversionLogEntry
	for rows.Next() {
		var e ConversionLogEntry
		if err := rows.Scan(&e.ID, &e.Table, &e.Columns, &e.ScriptText, &e.RunAt, &e.RunBy); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanLogEntry(row *sql.Row, id int64) (ConversionLogEntry, error) {
	var e ConversionLogEntry
	if err := row.Scan(&e.ID, &e.Table, &e.Columns, &e.ScriptText, &e.RunAt, &e.RunBy); err != nil {
		if err == sql.ErrNoRows {
			return ConversionLogEntry{}, fmt.Errorf("script %d not found", id)
		}
		return ConversionLogEntry{}, fmt.Errorf("get saved script: %w", err)
	}
	return e, nil
}

// touchScriptRun checks the row exists before updating: the MySQL driver
// reports changed rows, so RowsAffected cannot distinguish a missing id from
// an update that changed nothing (same author within the same second).
func touchScriptRun(ctx context.Context, db *sql.DB, id int64, runBy string) error {
	var one int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM conversion_scripts WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("script %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("touch script run: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`UPDATE conversion_scripts SET run_at = ?, run_by = ? WHERE id = ?`,
		time.Now().UTC(), runBy, id)
	if err != nil {
		return fmt.Errorf("touch script run: %w", err)
	}
	return nil
}

// requestColumnsCSV renders the requested column list the way the log stores
// it.
func requestColumnsCSV(requests []ColumnConversionRequest) string {
	names := make([]string, len(requests))
	for i, r := range requests {
		names[i] = r.Name
	}
	return strings.Join(names, ",")
}
