package main

import (
	"database/sql"
	"fmt"
	"log"
)

// constraintKey identifies a constraint for deduplication: the same
// constraint can reach a column through multiple matched rows (key usage and
// clause text) and must appear once.
type constraintKey struct {
	owningTable string
	name        string
}

// buildConstraintMap classifies raw schema usage into one
// ColumnConstraintProfile per candidate column. Keys, CHECK constraints, and
// triggers are hard-blocking; routine and view references are advisory.
func buildConstraintMap(table string, columnNames []string, usage *ColumnUsage, matcher TextualReferenceMatcher) map[string]*ColumnConstraintProfile {
	profiles := make(map[string]*ColumnConstraintProfile, len(columnNames))
	candidate := make(map[string]bool, len(columnNames))
	for _, col := range columnNames {
		profiles[col] = &ColumnConstraintProfile{ConstraintKinds: make(map[ConstraintKind]bool)}
		candidate[col] = true
	}
	if usage == nil {
		return profiles
	}

	seenConstraints := make(map[string]map[constraintKey]bool)
	seenTriggers := make(map[string]map[string]bool)
	seenReasons := make(map[string]map[string]bool)

	addReason := func(col, reason string, advisory bool) {
		if seenReasons[col] == nil {
			seenReasons[col] = make(map[string]bool)
		}
		if seenReasons[col][reason] {
			return
		}
		seenReasons[col][reason] = true
		p := profiles[col]
		if advisory {
			p.AdvisoryReasons = append(p.AdvisoryReasons, reason)
		} else {
			p.BlockingReasons = append(p.BlockingReasons, reason)
		}
	}

	addConstraint := func(col string, ref ConstraintRef, reason string) {
		key := constraintKey{owningTable: ref.OwningTable, name: ref.Name}
		if seenConstraints[col] == nil {
			seenConstraints[col] = make(map[constraintKey]bool)
		}
		if seenConstraints[col][key] {
			return
		}
		seenConstraints[col][key] = true

		p := profiles[col]
		p.Constraints = append(p.Constraints, ref)
		p.ConstraintKinds[ref.Kind] = true
		p.HasBlockingConstraint = true
		addReason(col, reason, false)
	}

	// 1. Key-column usage: attribute to the owning side for outgoing rows,
	// the referenced side for incoming foreign keys.
	for _, row := range usage.KeyUsage {
		kind, ok := keyConstraintKind(row.ConstraintType)
		if !ok {
			continue
		}

		if row.Table == table && candidate[row.Column] {
			ref := ConstraintRef{
				Name:             row.ConstraintName,
				Kind:             kind,
				OwningTable:      row.Table,
				OwningColumn:     row.Column,
				Direction:        DirOutgoing,
				ReferencedTable:  row.ReferencedTable,
				ReferencedColumn: row.ReferencedColumn,
			}
			switch kind {
			case KindPrimaryKey:
				profiles[row.Column].IsPrimaryKey = true
				addConstraint(row.Column, ref, "primary key column: introduce a surrogate key first or use a companion column")
			case KindForeignKey:
				addConstraint(row.Column, ref, fmt.Sprintf("foreign key `%s` references `%s`.`%s`", row.ConstraintName, row.ReferencedTable, row.ReferencedColumn))
			default:
				addConstraint(row.Column, ref, fmt.Sprintf("%s constraint `%s`", kind, row.ConstraintName))
			}
		}

		if kind == KindForeignKey && row.ReferencedTable == table && candidate[row.ReferencedColumn] {
			ref := ConstraintRef{
				Name:             row.ConstraintName,
				Kind:             kind,
				OwningTable:      row.Table,
				OwningColumn:     row.Column,
				Direction:        DirIncoming,
				ReferencedTable:  row.ReferencedTable,
				ReferencedColumn: row.ReferencedColumn,
			}
			addConstraint(row.ReferencedColumn, ref, fmt.Sprintf("referenced by foreign key `%s` on `%s`", row.ConstraintName, row.Table))
		}
	}

	// 2. CHECK constraints with a direct column attribution.
	clauseByName := make(map[string]string, len(usage.CheckClauses))
	for _, row := range usage.CheckClauses {
		clauseByName[row.ConstraintName] = row.Clause
	}
	for _, row := range usage.CheckUsage {
		if row.Column == "" || !candidate[row.Column] {
			continue
		}
		ref := ConstraintRef{
			Name:         row.ConstraintName,
			Kind:         KindCheck,
			OwningTable:  table,
			OwningColumn: row.Column,
			Direction:    DirCheck,
			CheckClause:  clauseByName[row.ConstraintName],
		}
		addConstraint(row.Column, ref, fmt.Sprintf("check constraint `%s` on column", row.ConstraintName))
	}

	// 3. CHECK clauses matched against every candidate column by word
	// boundary, since the metadata does not list referenced columns.
	for _, row := range usage.CheckClauses {
		for _, col := range columnNames {
			if !matcher.Matches(row.Clause, col) {
				continue
			}
			ref := ConstraintRef{
				Name:         row.ConstraintName,
				Kind:         KindCheck,
				OwningTable:  table,
				OwningColumn: col,
				Direction:    DirCheck,
				CheckClause:  row.Clause,
			}
			addConstraint(col, ref, fmt.Sprintf("check constraint `%s` clause mentions column: %s", row.ConstraintName, previewText(row.Clause)))
		}
	}

	// 4. Triggers: a trigger on the table itself plausibly touches every
	// candidate column; a trigger elsewhere blocks only the columns its body
	// references, flagged distinctly since cross-table usage cannot be
	// proven safe.
	addTrigger := func(col string, tr TriggerRef, reason string) {
		if seenTriggers[col] == nil {
			seenTriggers[col] = make(map[string]bool)
		}
		if seenTriggers[col][tr.Name] {
			return
		}
		seenTriggers[col][tr.Name] = true

		p := profiles[col]
		p.Triggers = append(p.Triggers, tr)
		p.HasBlockingConstraint = true
		addReason(col, reason, false)
	}
	for _, tr := range usage.Triggers {
		for _, col := range columnNames {
			switch {
			case tr.EventTable == table:
				addTrigger(col, tr, fmt.Sprintf("trigger `%s` fires %s %s on `%s`", tr.Name, tr.Timing, tr.Event, tr.EventTable))
			case matcher.Matches(tr.StatementPreview, col):
				addTrigger(col, tr, fmt.Sprintf("trigger `%s` on another table (`%s`) references column", tr.Name, tr.EventTable))
			}
		}
	}

	// 5. Routine and view references are advisory: static text matching
	// cannot prove usage, so they recommend manual review instead of
	// blocking outright.
	for _, rt := range usage.RoutineRefs {
		for _, col := range columnNames {
			if matcher.Matches(rt.DefinitionPreview, col) {
				p := profiles[col]
				p.Routines = append(p.Routines, rt)
				addReason(col, fmt.Sprintf("advisory: routine `%s` mentions column, review manually", rt.Name), true)
			}
		}
	}
	for _, vw := range usage.ViewRefs {
		for _, col := range columnNames {
			if matcher.Matches(vw.DefinitionPreview, col) {
				p := profiles[col]
				p.Views = append(p.Views, vw)
				addReason(col, fmt.Sprintf("advisory: view `%s` mentions column, review manually", vw.Name), true)
			}
		}
	}

	return profiles
}

func keyConstraintKind(constraintType string) (ConstraintKind, bool) {
	switch constraintType {
	case "PRIMARY KEY":
		return KindPrimaryKey, true
	case "UNIQUE":
		return KindUnique, true
	case "FOREIGN KEY":
		return KindForeignKey, true
	}
	return "", false
}

// columnProfiles loads usage through the cache and classifies it. Metadata
// query failures degrade to "no usage found" rather than failing the whole
// planning request: the system prefers to under-block and let a human verify
// over crashing. The partial usage collected before the failure is still
// classified.
func columnProfiles(db *sql.DB, dbName, table string, columnNames []string, cache *UsageCache, token string, matcher TextualReferenceMatcher) map[string]*ColumnConstraintProfile {
	usage, err := cache.Load(db, dbName, table, columnNames, token, matcher)
	if err != nil {
		log.Printf("WARN: schema usage lookup incomplete for %s: %v (treating missing metadata as no usage)", table, err)
	}
	return buildConstraintMap(table, columnNames, usage, matcher)
}

// ColumnInfo pairs a column's metadata snapshot with its constraint profile.
type ColumnInfo struct {
	ColumnMetadata
	Profile *ColumnConstraintProfile
}

// listColumns introspects a table's columns and classifies the schema usage
// of every one of them.
func listColumns(db *sql.DB, dbName, table string, cache *UsageCache, token string, matcher TextualReferenceMatcher) ([]ColumnInfo, error) {
	cols, err := introspectTableColumns(db, dbName, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no columns (does it exist?)", table)
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	profiles := columnProfiles(db, dbName, table, names, cache, token, matcher)

	infos := make([]ColumnInfo, len(cols))
	for i, c := range cols {
		infos[i] = ColumnInfo{ColumnMetadata: c, Profile: profiles[c.Name]}
	}
	return infos, nil
}
