package main

import (
	"fmt"
	"strings"
)

func backupColumnName(col string) string    { return col + "_scalar_backup" }
func companionColumnName(col string) string { return col + "_json_multi" }
func jsonCheckName(col string) string       { return col + "_json_check" }

// columnPlan is the planning result for a single requested column.
type columnPlan struct {
	Statements []Statement // phase-ordered, drop through check; may include comments
	Post       []Statement // constraint re-attachments, appended at the end of the table plan
	Preview    ColumnPreview
	Skipped    bool
}

// planColumn evaluates the per-column decision tree, first match wins:
// skip, primary-key restriction, manual, companion, blocked without
// constraint handling, blocked with constraint handling, plain conversion.
func planColumn(table string, meta ColumnMetadata, req ColumnConversionRequest, profile *ColumnConstraintProfile) columnPlan {
	if profile == nil {
		profile = &ColumnConstraintProfile{ConstraintKinds: make(map[ConstraintKind]bool)}
	}

	preview := ColumnPreview{
		Column:        meta.Name,
		OriginalType:  meta.DeclaredType,
		ExampleBefore: "123",
		ExampleAfter:  `["123"]`,
	}
	// Advisory references never block on their own, but every preview
	// surfaces them so the admin reviews routines and views before running.
	preview.Notes = append(preview.Notes, profile.AdvisoryReasons...)

	if req.Action == ActionSkip {
		preview.Notes = append(preview.Notes, "skipped by admin")
		if profile.HasBlockingConstraint {
			preview.Notes = append(preview.Notes, fmt.Sprintf("note: column has blocking constraints (%s)", strings.Join(profile.BlockingReasons, "; ")))
		}
		return columnPlan{Preview: preview, Skipped: true}
	}

	isPrimary := meta.IsPrimaryKey || profile.IsPrimaryKey
	if isPrimary && req.Action != ActionCompanion && req.Action != ActionManual {
		preview.Blocked = true
		preview.Notes = append(preview.Notes,
			"primary key columns cannot be converted in place",
			fmt.Sprintf("use action 'companion' to add %s alongside the untouched key", mysqlIdent(companionColumnName(meta.Name))),
		)
		preview.DiagnosticQueries = append(preview.DiagnosticQueries, diagnosticKeyUsageQuery(table, meta.Name))
		return columnPlan{Preview: preview, Skipped: true}
	}

	if req.Action == ActionManual {
		preview.Blocked = true
		preview.Notes = append(preview.Notes, "manual conversion: run the supplied SQL out-of-band before regenerating the plan")
		if req.CustomSQL != "" {
			preview.Notes = append(preview.Notes, "prerequisite SQL: "+previewText(req.CustomSQL))
		} else {
			preview.Notes = append(preview.Notes, "no prerequisite SQL supplied")
		}
		return columnPlan{Preview: preview, Skipped: true}
	}

	if req.Action == ActionCompanion {
		companion := companionColumnName(meta.Name)
		stmts := []Statement{
			AddColumn{Table: table, Column: companion, Type: "JSON", At: phaseBackup},
			PopulateJSON{Table: table, Column: companion, Source: meta.Name},
			DropCheckConstraint{Table: table, Name: jsonCheckName(companion), IfExists: true, At: phaseCheck},
			AddJSONCheck{Table: table, Column: companion, Name: jsonCheckName(companion)},
		}
		preview.BackupColumn = ""
		preview.Notes = append(preview.Notes,
			fmt.Sprintf("companion column %s added; original column and its constraints untouched", mysqlIdent(companion)))
		main, post := orderStatements(stmts)
		return columnPlan{Statements: main, Post: post, Preview: preview}
	}

	if profile.HasBlockingConstraint && !req.HandleConstraints {
		preview.Blocked = true
		preview.Notes = append(preview.Notes, "blocked by constraints:")
		preview.Notes = append(preview.Notes, profile.BlockingReasons...)
		preview.Notes = append(preview.Notes, "enable constraint handling to generate drop and re-attach statements")
		preview.DiagnosticQueries = diagnosticQueries(table, meta.Name, profile)
		return columnPlan{Preview: preview, Skipped: true}
	}

	var stmts []Statement
	backup := ""
	if req.Backup {
		backup = backupColumnName(meta.Name)
		preview.BackupColumn = backup
	} else {
		preview.Notes = append(preview.Notes, "WARNING: backup disabled, original scalar values are destroyed by the conversion")
	}

	if profile.HasBlockingConstraint {
		stmts = append(stmts, dropBlockingStatements(table, meta.Name, backup, profile, &preview)...)
		preview.DiagnosticQueries = diagnosticQueries(table, meta.Name, profile)
	}

	stmts = append(stmts, conversionCore(table, meta, backup)...)

	main, post := orderStatements(stmts)
	return columnPlan{Statements: main, Post: post, Preview: preview}
}

// conversionCore emits the shared conversion sequence: optional backup column
// and copy, the JSON type change, population from the backup (the ALTER
// erases scalar type fidelity, so the original values must be copied out
// first), and the idempotent validity check.
func conversionCore(table string, meta ColumnMetadata, backup string) []Statement {
	var stmts []Statement
	source := meta.Name
	if backup != "" {
		stmts = append(stmts,
			AddColumn{Table: table, Column: backup, Type: meta.DeclaredType, At: phaseBackup},
			CopyColumn{Table: table, From: meta.Name, To: backup},
		)
		source = backup
	}
	stmts = append(stmts,
		ModifyColumnJSON{Table: table, Column: meta.Name},
		PopulateJSON{Table: table, Column: meta.Name, Source: source},
		DropCheckConstraint{Table: table, Name: jsonCheckName(meta.Name), IfExists: true, At: phaseCheck},
		AddJSONCheck{Table: table, Column: meta.Name, Name: jsonCheckName(meta.Name)},
	)
	return stmts
}

// dropBlockingStatements emits drops for every blocking constraint and
// trigger, advisory comments for the pieces whose recreation needs a human
// (JSON-aware CHECK or FK rewrites are not mechanically derivable), and post
// statements re-attaching FK/UNIQUE constraints onto the backup column when
// one exists.
func dropBlockingStatements(table, column, backup string, profile *ColumnConstraintProfile, preview *ColumnPreview) []Statement {
	var stmts []Statement

	for _, ref := range profile.Constraints {
		switch ref.Kind {
		case KindPrimaryKey:
			// Unreachable through the decision tree; never drop a PK.
			stmts = append(stmts, Comment{Text: fmt.Sprintf("primary key %s left untouched", mysqlIdent(ref.Name)), At: phaseDrop})

		case KindForeignKey:
			// Foreign keys are dropped from the table that owns them, which
			// for incoming references is not the table under conversion.
			stmts = append(stmts, DropForeignKey{Table: ref.OwningTable, Name: ref.Name})
			if backup != "" {
				var readd AddForeignKey
				if ref.Direction == DirIncoming {
					readd = AddForeignKey{Table: ref.OwningTable, Name: ref.Name, Column: ref.OwningColumn, RefTable: table, RefColumn: backup}
				} else {
					readd = AddForeignKey{Table: table, Name: ref.Name, Column: backup, RefTable: ref.ReferencedTable, RefColumn: ref.ReferencedColumn}
				}
				stmts = append(stmts, readd)
				preview.Notes = append(preview.Notes,
					fmt.Sprintf("foreign key %s re-attached via backup column %s at end of script", mysqlIdent(ref.Name), mysqlIdent(backup)))
			} else {
				stmts = append(stmts, Comment{Text: fmt.Sprintf("review: foreign key %s dropped and not re-attached (no backup column)", mysqlIdent(ref.Name)), At: phaseDrop})
			}

		case KindUnique:
			stmts = append(stmts, DropUniqueKey{Table: ref.OwningTable, Name: ref.Name})
			if backup != "" {
				stmts = append(stmts, AddUniqueKey{Table: table, Name: ref.Name, Column: backup})
				preview.Notes = append(preview.Notes,
					fmt.Sprintf("unique key %s re-attached to backup column %s at end of script", mysqlIdent(ref.Name), mysqlIdent(backup)))
			} else {
				stmts = append(stmts, Comment{Text: fmt.Sprintf("review: unique key %s dropped and not re-attached (no backup column)", mysqlIdent(ref.Name)), At: phaseDrop})
			}

		case KindCheck:
			stmts = append(stmts, DropCheckConstraint{Table: ref.OwningTable, Name: ref.Name, IfExists: true, At: phaseDrop})
			clause := ref.CheckClause
			if clause == "" {
				clause = "clause unavailable"
			}
			stmts = append(stmts, Comment{Text: fmt.Sprintf("review: recreate check %s with a JSON-aware expression (was: %s)", mysqlIdent(ref.Name), previewText(clause)), At: phaseDrop})
		}
	}

	for _, tr := range profile.Triggers {
		stmts = append(stmts, DropTrigger{Name: tr.Name})
		stmts = append(stmts, Comment{Text: fmt.Sprintf("review: recreate trigger %s (%s %s on %s) against the JSON column", mysqlIdent(tr.Name), tr.Timing, tr.Event, mysqlIdent(tr.EventTable)), At: phaseDrop})
	}

	return stmts
}

func diagnosticKeyUsageQuery(table, column string) string {
	return fmt.Sprintf(
		"SELECT CONSTRAINT_NAME, TABLE_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME"+
			" FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE"+
			" WHERE TABLE_SCHEMA = DATABASE()"+
			" AND ((TABLE_NAME = '%s' AND COLUMN_NAME = '%s') OR (REFERENCED_TABLE_NAME = '%s' AND REFERENCED_COLUMN_NAME = '%s'))",
		table, column, table, column)
}

// diagnosticQueries builds ready-to-run metadata queries verifying each kind
// of blocking condition attributed to the column.
func diagnosticQueries(table, column string, profile *ColumnConstraintProfile) []string {
	var queries []string
	if profile.ConstraintKinds[KindPrimaryKey] || profile.ConstraintKinds[KindUnique] || profile.ConstraintKinds[KindForeignKey] {
		queries = append(queries, diagnosticKeyUsageQuery(table, column))
	}
	if profile.ConstraintKinds[KindCheck] {
		queries = append(queries, fmt.Sprintf(
			"SELECT CONSTRAINT_NAME, CHECK_CLAUSE FROM INFORMATION_SCHEMA.CHECK_CONSTRAINTS"+
				" WHERE CONSTRAINT_SCHEMA = DATABASE() AND CHECK_CLAUSE LIKE '%%%s%%'", column))
	}
	if len(profile.Triggers) > 0 {
		queries = append(queries, fmt.Sprintf(
			"SELECT TRIGGER_NAME, EVENT_OBJECT_TABLE FROM INFORMATION_SCHEMA.TRIGGERS"+
				" WHERE TRIGGER_SCHEMA = DATABASE() AND (EVENT_OBJECT_TABLE = '%s' OR ACTION_STATEMENT LIKE '%%%s%%')", table, column))
	}
	return queries
}

// planTable builds the full conversion plan for one table. Column statements
// are concatenated in the caller-specified order; every post statement is
// appended as a single trailing block, giving a two-phase script: phase 1 is
// drops and conversions, phase 2 is re-attachments. A run stopped after
// phase 1 leaves the schema consistent with the backup columns whole.
func planTable(table string, requests []ColumnConversionRequest, metadata map[string]ColumnMetadata, profiles map[string]*ColumnConstraintProfile) ConversionPlan {
	var plan ConversionPlan
	var all []Statement
	var post []Statement

	scriptLines := []string{fmt.Sprintf("-- conversion script for table %s", mysqlIdent(table))}

	for _, req := range requests {
		meta, ok := metadata[req.Name]
		if !ok {
			preview := ColumnPreview{
				Column:  req.Name,
				Blocked: true,
				Notes:   []string{fmt.Sprintf("column %s not found on table %s", mysqlIdent(req.Name), mysqlIdent(table))},
			}
			plan.Previews = append(plan.Previews, preview)
			scriptLines = append(scriptLines, fmt.Sprintf("-- column %s: not found, nothing generated", mysqlIdent(req.Name)))
			continue
		}

		cp := planColumn(table, meta, req, profiles[req.Name])
		plan.Previews = append(plan.Previews, cp.Preview)

		if len(cp.Statements) == 0 {
			note := "nothing generated"
			if len(cp.Preview.Notes) > 0 {
				note = cp.Preview.Notes[0]
			}
			scriptLines = append(scriptLines, fmt.Sprintf("-- column %s (%s): %s", mysqlIdent(req.Name), req.Action, note))
			continue
		}

		scriptLines = append(scriptLines, fmt.Sprintf("-- column %s (%s)", mysqlIdent(req.Name), req.Action))
		scriptLines = append(scriptLines, renderScriptLines(cp.Statements)...)
		all = append(all, cp.Statements...)
		post = append(post, cp.Post...)
	}

	if len(post) > 0 {
		scriptLines = append(scriptLines, "-- re-attach constraints on backup columns")
		scriptLines = append(scriptLines, renderScriptLines(post)...)
		all = append(all, post...)
	}

	plan.Statements = renderExecutable(all)
	plan.ScriptText = strings.Join(scriptLines, "\n") + "\n"
	return plan
}
