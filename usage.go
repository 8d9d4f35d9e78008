package main

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// previewText collapses a SQL body to one whitespace-normalized line. The
// full text is kept: the classifier matches column references against it, and
// a truncated body could silently hide a dependent. Display-time truncation
// happens in the CLI.
func previewText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// introspectTableColumns reads column metadata for one table. No caching:
// the snapshot is re-fetched per request because the schema can change
// between calls.
func introspectTableColumns(db *sql.DB, dbName, table string) ([]ColumnMetadata, error) {
	rows, err := db.Query(
		`SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_KEY, EXTRA
		 FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY ORDINAL_POSITION`,
		dbName, table,
	)
	if err != nil {
		return nil, fmt.Errorf("introspect columns for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []ColumnMetadata
	for rows.Next() {
		var c ColumnMetadata
		var nullable, columnKey string
		if err := rows.Scan(&c.Name, &c.DeclaredType, &nullable, &columnKey, &c.Extra); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.Nullable = nullable == "YES"
		c.IsPrimaryKey = columnKey == "PRI"
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// loadColumnUsage queries schema metadata for everything that mentions the
// table or one of the candidate columns: key-column usage (outgoing and
// incoming), CHECK constraints with their clause text, triggers, routine
// bodies, and view definitions. Pure read, no mutation.
//
// With an empty column set the pattern-matched scans (triggers, routines,
// views) are skipped entirely; key and check usage are still returned since
// they are table-scoped.
func loadColumnUsage(db *sql.DB, dbName, table string, columnNames []string, matcher TextualReferenceMatcher) (*ColumnUsage, error) {
	usage := &ColumnUsage{}

	if err := loadKeyUsage(db, dbName, table, usage); err != nil {
		return usage, err
	}
	if err := loadCheckUsage(db, dbName, table, columnNames, usage); err != nil {
		return usage, err
	}
	if len(columnNames) == 0 {
		return usage, nil
	}

	if err := loadTriggerRefs(db, dbName, table, columnNames, matcher, usage); err != nil {
		return usage, err
	}
	if err := loadRoutineRefs(db, dbName, columnNames, usage); err != nil {
		return usage, err
	}
	if err := loadViewRefs(db, dbName, columnNames, usage); err != nil {
		return usage, err
	}
	return usage, nil
}

// loadKeyUsage collects KEY_COLUMN_USAGE rows where the table owns the
// constraint (outgoing) or is the referenced side of a foreign key
// (incoming). Incoming rows matter for primary key columns: retyping a
// referenced PK breaks foreign rows elsewhere.
func loadKeyUsage(db *sql.DB, dbName, table string, usage *ColumnUsage) error {
	rows, err := db.Query(
		`SELECT kcu.CONSTRAINT_NAME, tc.CONSTRAINT_TYPE,
		        kcu.TABLE_NAME, kcu.COLUMN_NAME,
		        COALESCE(kcu.REFERENCED_TABLE_NAME, ''),
		        COALESCE(kcu.REFERENCED_COLUMN_NAME, '')
		 FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		 JOIN INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		   ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
		   AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		   AND tc.TABLE_NAME = kcu.TABLE_NAME
		 WHERE kcu.TABLE_SCHEMA = ?
		   AND (kcu.TABLE_NAME = ? OR kcu.REFERENCED_TABLE_NAME = ?)
		 ORDER BY kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`,
		dbName, table, table,
	)
	if err != nil {
		return fmt.Errorf("key usage for %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r KeyUsageRow
		if err := rows.Scan(&r.ConstraintName, &r.ConstraintType, &r.Table, &r.Column, &r.ReferencedTable, &r.ReferencedColumn); err != nil {
			return fmt.Errorf("scan key usage: %w", err)
		}
		usage.KeyUsage = append(usage.KeyUsage, r)
	}
	return rows.Err()
}

// loadCheckUsage collects CHECK constraints on the table joined against their
// clause text. The metadata does not reliably list which columns a CHECK
// references, so the clause text is kept for in-process matching; a direct
// column attribution is recorded only for column-level checks, which MariaDB
// names after the column itself.
func loadCheckUsage(db *sql.DB, dbName, table string, columnNames []string, usage *ColumnUsage) error {
	rows, err := db.Query(
		`SELECT tc.CONSTRAINT_NAME, COALESCE(cc.CHECK_CLAUSE, '')
		 FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		 LEFT JOIN INFORMATION_SCHEMA.CHECK_CONSTRAINTS cc
		   ON cc.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
		   AND cc.CONSTRAINT_SCHEMA = tc.TABLE_SCHEMA
		 WHERE tc.TABLE_SCHEMA = ? AND tc.TABLE_NAME = ?
		   AND tc.CONSTRAINT_TYPE = 'CHECK'
		 ORDER BY tc.CONSTRAINT_NAME`,
		dbName, table,
	)
	if err != nil {
		return fmt.Errorf("check usage for %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, clause string
		if err := rows.Scan(&name, &clause); err != nil {
			return fmt.Errorf("scan check usage: %w", err)
		}
		usage.CheckUsage = append(usage.CheckUsage, CheckUsageRow{
			ConstraintName: name,
			Column:         directCheckColumn(name, columnNames),
		})
		usage.CheckClauses = append(usage.CheckClauses, CheckClauseRow{ConstraintName: name, Clause: clause})
	}
	return rows.Err()
}

// directCheckColumn maps a CHECK constraint to a candidate column when the
// constraint carries the column-level naming convention: MariaDB names a
// column-level check after the column itself. Exact name match only; the
// clause matcher covers everything else.
func directCheckColumn(constraintName string, columnNames []string) string {
	for _, col := range columnNames {
		if constraintName == col {
			return col
		}
	}
	return ""
}

// loadTriggerRefs scans every trigger in the schema, not just the table's
// own: a trigger on table B can still reference table A's column in its body,
// which cannot be proven safe. A trigger is kept when its action statement
// references one of the candidate columns or when it fires on the table.
func loadTriggerRefs(db *sql.DB, dbName, table string, columnNames []string, matcher TextualReferenceMatcher, usage *ColumnUsage) error {
	rows, err := db.Query(
		`SELECT TRIGGER_NAME, EVENT_OBJECT_TABLE, ACTION_TIMING, EVENT_MANIPULATION,
		        COALESCE(ACTION_STATEMENT, '')
		 FROM INFORMATION_SCHEMA.TRIGGERS
		 WHERE TRIGGER_SCHEMA = ?
		 ORDER BY TRIGGER_NAME`,
		dbName,
	)
	if err != nil {
		return fmt.Errorf("triggers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tr TriggerRef
		var body string
		if err := rows.Scan(&tr.Name, &tr.EventTable, &tr.Timing, &tr.Event, &body); err != nil {
			return fmt.Errorf("scan trigger: %w", err)
		}
		keep := tr.EventTable == table
		if !keep {
			for _, col := range columnNames {
				if matcher.Matches(body, col) {
					keep = true
					break
				}
			}
		}
		if keep {
			tr.StatementPreview = previewText(body)
			usage.Triggers = append(usage.Triggers, tr)
		}
	}
	return rows.Err()
}

// likeConditions builds an OR-joined list of LIKE conditions over one text
// column, one parameter per candidate column name. Intentionally a substring
// search: over-approximation is acceptable, silently missing a dependent is
// not.
func likeConditions(field string, columnNames []string) (string, []any) {
	conds := make([]string, len(columnNames))
	args := make([]any, len(columnNames))
	for i, col := range columnNames {
		conds[i] = field + " LIKE ?"
		args[i] = "%" + col + "%"
	}
	return "(" + strings.Join(conds, " OR ") + ")", args
}

func loadRoutineRefs(db *sql.DB, dbName string, columnNames []string, usage *ColumnUsage) error {
	cond, args := likeConditions("ROUTINE_DEFINITION", columnNames)
	query := `SELECT ROUTINE_NAME, COALESCE(ROUTINE_DEFINITION, '')
		 FROM INFORMATION_SCHEMA.ROUTINES
		 WHERE ROUTINE_SCHEMA = ? AND ` + cond + `
		 ORDER BY ROUTINE_NAME`
	rows, err := db.Query(query, append([]any{dbName}, args...)...)
	if err != nil {
		return fmt.Errorf("routine refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return fmt.Errorf("scan routine: %w", err)
		}
		usage.RoutineRefs = append(usage.RoutineRefs, RoutineRef{Name: name, DefinitionPreview: previewText(def)})
	}
	return rows.Err()
}

func loadViewRefs(db *sql.DB, dbName string, columnNames []string, usage *ColumnUsage) error {
	cond, args := likeConditions("VIEW_DEFINITION", columnNames)
	query := `SELECT TABLE_NAME, COALESCE(VIEW_DEFINITION, '')
		 FROM INFORMATION_SCHEMA.VIEWS
		 WHERE TABLE_SCHEMA = ? AND ` + cond + `
		 ORDER BY TABLE_NAME`
	rows, err := db.Query(query, append([]any{dbName}, args...)...)
	if err != nil {
		return fmt.Errorf("view refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return fmt.Errorf("scan view: %w", err)
		}
		usage.ViewRefs = append(usage.ViewRefs, ViewRef{Name: name, DefinitionPreview: previewText(def)})
	}
	return rows.Err()
}

// UsageCache is an explicit read-through cache over loadColumnUsage, keyed by
// (table, sorted column set, schema version token). Callers invalidate by
// changing the token; an empty token disables caching entirely.
type UsageCache struct {
	mu      sync.Mutex
	entries map[string]*ColumnUsage
}

func NewUsageCache() *UsageCache {
	return &UsageCache{entries: make(map[string]*ColumnUsage)}
}

func usageCacheKey(table string, columnNames []string, token string) string {
	cols := append([]string(nil), columnNames...)
	sort.Strings(cols)
	return table + "\x00" + strings.Join(cols, "\x00") + "\x00" + token
}

// Load returns the cached usage for the key or loads and stores it. Load
// errors are not cached: the next call retries.
func (c *UsageCache) Load(db *sql.DB, dbName, table string, columnNames []string, token string, matcher TextualReferenceMatcher) (*ColumnUsage, error) {
	if c == nil || token == "" {
		return loadColumnUsage(db, dbName, table, columnNames, matcher)
	}

	key := usageCacheKey(table, columnNames, token)
	c.mu.Lock()
	if cached, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	usage, err := loadColumnUsage(db, dbName, table, columnNames, matcher)
	if err != nil {
		return usage, err
	}
	c.mu.Lock()
	c.entries[key] = usage
	c.mu.Unlock()
	return usage, nil
}

// Invalidate drops every cached entry.
func (c *UsageCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]*ColumnUsage)
	c.mu.Unlock()
}

// schemaVersionToken derives a cache token from table count and the latest
// UPDATE_TIME in the schema. Returns "" (caching disabled) when the metadata
// is unavailable, which is also the safe answer.
func schemaVersionToken(db *sql.DB, dbName string) string {
	var count int64
	var updated sql.NullString
	err := db.QueryRow(
		`SELECT COUNT(*), MAX(UPDATE_TIME)
		 FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = ?`,
		dbName,
	).Scan(&count, &updated)
	if err != nil || !updated.Valid {
		return ""
	}
	return fmt.Sprintf("%d@%s", count, updated.String)
}
