package main

import (
	"fmt"
	"strings"
)

// mysqlIdent quotes an identifier with backticks, doubling embedded backticks.
func mysqlIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// stmtPhase orders statements within one column's plan. Drops always precede
// backup-column creation, which precedes the type change, which precedes JSON
// population, which precedes the validity check; post statements re-attach
// constraints onto backup columns and trail the entire script.
type stmtPhase int

const (
	phaseDrop stmtPhase = iota
	phaseBackup
	phaseAlter
	phasePopulate
	phaseCheck
	phasePost
)

// Statement is one tagged DDL/DML step. The phase belongs to the type, so
// statement ordering is enforced by construction rather than append
// discipline.
type Statement interface {
	Phase() stmtPhase
	Render() string
}

// Comment is an advisory script line. Never executed, only rendered into the
// script text.
type Comment struct {
	Text string
	At   stmtPhase
}

func (c Comment) Phase() stmtPhase { return c.At }
func (c Comment) Render() string   { return "-- " + c.Text }

// DropForeignKey drops a foreign key from the table that owns it, which for
// incoming references differs from the table under conversion.
type DropForeignKey struct {
	Table string
	Name  string
}

func (s DropForeignKey) Phase() stmtPhase { return phaseDrop }
func (s DropForeignKey) Render() string {
	return fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", mysqlIdent(s.Table), mysqlIdent(s.Name))
}

// DropUniqueKey drops a unique constraint (a unique index in MySQL terms).
type DropUniqueKey struct {
	Table string
	Name  string
}

func (s DropUniqueKey) Phase() stmtPhase { return phaseDrop }
func (s DropUniqueKey) Render() string {
	return fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", mysqlIdent(s.Table), mysqlIdent(s.Name))
}

// DropCheckConstraint drops a CHECK constraint, optionally tolerating its
// absence for idempotent re-application.
type DropCheckConstraint struct {
	Table    string
	Name     string
	IfExists bool
	At       stmtPhase
}

func (s DropCheckConstraint) Phase() stmtPhase { return s.At }
func (s DropCheckConstraint) Render() string {
	ifExists := ""
	if s.IfExists {
		ifExists = "IF EXISTS "
	}
	return fmt.Sprintf("ALTER TABLE %s DROP CHECK %s%s", mysqlIdent(s.Table), ifExists, mysqlIdent(s.Name))
}

// DropTrigger removes a trigger that references the column being converted.
type DropTrigger struct {
	Name string
}

func (s DropTrigger) Phase() stmtPhase { return phaseDrop }
func (s DropTrigger) Render() string {
	return fmt.Sprintf("DROP TRIGGER IF EXISTS %s", mysqlIdent(s.Name))
}

// AddColumn adds a column (backup or companion) with an explicit type.
type AddColumn struct {
	Table  string
	Column string
	Type   string
	At     stmtPhase
}

func (s AddColumn) Phase() stmtPhase { return s.At }
func (s AddColumn) Render() string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", mysqlIdent(s.Table), mysqlIdent(s.Column), s.Type)
}

// CopyColumn copies every row's value from one column to another.
type CopyColumn struct {
	Table string
	From  string
	To    string
}

func (s CopyColumn) Phase() stmtPhase { return phaseBackup }
func (s CopyColumn) Render() string {
	return fmt.Sprintf("UPDATE %s SET %s = %s", mysqlIdent(s.Table), mysqlIdent(s.To), mysqlIdent(s.From))
}

// ModifyColumnJSON retypes a column to JSON in place. This erases scalar type
// fidelity, which is why population reads from the backup column afterwards.
type ModifyColumnJSON struct {
	Table  string
	Column string
}

func (s ModifyColumnJSON) Phase() stmtPhase { return phaseAlter }
func (s ModifyColumnJSON) Render() string {
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s JSON", mysqlIdent(s.Table), mysqlIdent(s.Column))
}

// PopulateJSON wraps scalar values into single-element JSON arrays. NULL
// source rows stay NULL.
type PopulateJSON struct {
	Table  string
	Column string
	Source string
}

func (s PopulateJSON) Phase() stmtPhase { return phasePopulate }
func (s PopulateJSON) Render() string {
	return fmt.Sprintf("UPDATE %s SET %s = JSON_ARRAY(%s) WHERE %s IS NOT NULL",
		mysqlIdent(s.Table), mysqlIdent(s.Column), mysqlIdent(s.Source), mysqlIdent(s.Source))
}

// AddJSONCheck attaches the JSON-array validity constraint to a converted or
// companion column.
type AddJSONCheck struct {
	Table  string
	Column string
	Name   string
}

func (s AddJSONCheck) Phase() stmtPhase { return phaseCheck }
func (s AddJSONCheck) Render() string {
	col := mysqlIdent(s.Column)
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (JSON_VALID(%s) AND JSON_TYPE(%s) = 'ARRAY')",
		mysqlIdent(s.Table), mysqlIdent(s.Name), col, col)
}

// AddForeignKey re-attaches a foreign key, pointing at (or from) a backup
// column so referential integrity over the original scalar values survives
// the conversion. Always a post statement.
type AddForeignKey struct {
	Table     string
	Name      string
	Column    string
	RefTable  string
	RefColumn string
}

func (s AddForeignKey) Phase() stmtPhase { return phasePost }
func (s AddForeignKey) Render() string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		mysqlIdent(s.Table), mysqlIdent(s.Name), mysqlIdent(s.Column), mysqlIdent(s.RefTable), mysqlIdent(s.RefColumn))
}

// AddUniqueKey re-attaches a unique constraint onto a backup column.
type AddUniqueKey struct {
	Table  string
	Name   string
	Column string
}

func (s AddUniqueKey) Phase() stmtPhase { return phasePost }
func (s AddUniqueKey) Render() string {
	return fmt.Sprintf("ALTER TABLE %s ADD UNIQUE KEY %s (%s)",
		mysqlIdent(s.Table), mysqlIdent(s.Name), mysqlIdent(s.Column))
}

// orderStatements sorts one column's statements into phase order, keeping the
// original order within a phase. Post statements are returned separately so
// the table-level plan can append them as one trailing block.
func orderStatements(stmts []Statement) (main, post []Statement) {
	for phase := phaseDrop; phase <= phaseCheck; phase++ {
		for _, s := range stmts {
			if s.Phase() == phase {
				main = append(main, s)
			}
		}
	}
	for _, s := range stmts {
		if s.Phase() == phasePost {
			post = append(post, s)
		}
	}
	return main, post
}

// renderExecutable renders only the executable statements, no comments.
func renderExecutable(stmts []Statement) []string {
	var out []string
	for _, s := range stmts {
		if _, isComment := s.(Comment); isComment {
			continue
		}
		out = append(out, s.Render())
	}
	return out
}

// renderScriptLines renders every statement including comments: executable
// statements terminated with ';', comment lines left bare.
func renderScriptLines(stmts []Statement) []string {
	var out []string
	for _, s := range stmts {
		if _, isComment := s.(Comment); isComment {
			out = append(out, s.Render())
			continue
		}
		out = append(out, s.Render()+";")
	}
	return out
}
