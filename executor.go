package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// runPlanStatements executes a plan's statements on one connection inside a
// single transaction, in order, all-or-nothing. Any failure rolls back and
// returns the raw driver error with the offending SQL; the caller must
// remediate and regenerate the plan, since schema state may have changed.
func runPlanStatements(ctx context.Context, db *sql.DB, statements []string) error {
	if len(statements) == 0 {
		return nil
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("statement %d/%d: %w\nSQL: %s", i+1, len(statements), err, stmt)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// splitScript turns stored script text back into executable statements. It
// splits on semicolons and drops "--" line comments; semicolons and dashes
// inside single-quoted strings or backtick-quoted identifiers stay intact.
func splitScript(script string) []string {
	var stmts []string
	var current strings.Builder
	inQuote := false
	inIdent := false
	inComment := false

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case inComment:
			if c == '\n' {
				inComment = false
				current.WriteByte(c)
			}
		case c == '\'' && !inIdent:
			// Escaped quotes ('') stay inside the string.
			if inQuote && i+1 < len(script) && script[i+1] == '\'' {
				current.WriteString("''")
				i++
			} else {
				inQuote = !inQuote
				current.WriteByte(c)
			}
		case c == '`' && !inQuote:
			inIdent = !inIdent
			current.WriteByte(c)
		case c == '-' && !inQuote && !inIdent && i+1 < len(script) && script[i+1] == '-':
			inComment = true
			i++
		case c == ';' && !inQuote && !inIdent:
			if s := strings.TrimSpace(current.String()); s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}

	// Trailing statement without semicolon
	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}

	return stmts
}
