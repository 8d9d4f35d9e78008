package main

import "time"

// ConstraintKind classifies a key or check constraint from INFORMATION_SCHEMA.
type ConstraintKind string

const (
	KindPrimaryKey ConstraintKind = "PRIMARY KEY"
	KindUnique     ConstraintKind = "UNIQUE"
	KindForeignKey ConstraintKind = "FOREIGN KEY"
	KindCheck      ConstraintKind = "CHECK"
)

// RefDirection records how a constraint touches the column under analysis.
type RefDirection string

const (
	// DirOutgoing: the analyzed table's column participates in the constraint.
	DirOutgoing RefDirection = "outgoing"
	// DirIncoming: another table's foreign key references the analyzed column.
	DirIncoming RefDirection = "incoming"
	// DirCheck: a CHECK clause mentions the column.
	DirCheck RefDirection = "check"
)

// ConversionAction is the per-column choice made by the administrator.
type ConversionAction string

const (
	ActionConvert   ConversionAction = "convert"   // in-place type change to JSON
	ActionSkip      ConversionAction = "skip"      // leave the column untouched
	ActionManual    ConversionAction = "manual"    // caller-supplied SQL runs out-of-band first
	ActionCompanion ConversionAction = "companion" // add a JSON column alongside the original
)

// parseAction validates a user-supplied action string.
func parseAction(s string) (ConversionAction, bool) {
	switch ConversionAction(s) {
	case ActionConvert, ActionSkip, ActionManual, ActionCompanion:
		return ConversionAction(s), true
	}
	return "", false
}

// ColumnMetadata is a read-only snapshot of one column from
// INFORMATION_SCHEMA.COLUMNS. Re-fetched per request; never cached, since the
// schema can change between calls.
type ColumnMetadata struct {
	Name         string
	DeclaredType string // full column type, e.g. "varchar(255)"
	Nullable     bool
	IsPrimaryKey bool
	Extra        string // e.g. "auto_increment"
}

// ConstraintRef is one constraint attributed to a column.
type ConstraintRef struct {
	Name             string
	Kind             ConstraintKind
	OwningTable      string // table that owns the constraint (differs from the analyzed table for incoming FKs)
	OwningColumn     string
	Direction        RefDirection
	ReferencedTable  string
	ReferencedColumn string
	CheckClause      string
}

// TriggerRef is a trigger attributed to a column, either because it fires on
// the owning table or because its body textually references the column.
type TriggerRef struct {
	Name             string
	EventTable       string
	Timing           string // BEFORE / AFTER
	Event            string // INSERT / UPDATE / DELETE
	StatementPreview string
}

// RoutineRef is a stored routine whose body textually mentions a column.
// Advisory only: substring matching cannot prove actual usage.
type RoutineRef struct {
	Name              string
	DefinitionPreview string
}

// ViewRef is a view whose definition textually mentions a column.
// Advisory only, like RoutineRef.
type ViewRef struct {
	Name              string
	DefinitionPreview string
}

// KeyUsageRow is one raw KEY_COLUMN_USAGE row joined with its constraint type.
type KeyUsageRow struct {
	ConstraintName   string
	ConstraintType   string // PRIMARY KEY / UNIQUE / FOREIGN KEY
	Table            string
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// CheckUsageRow is one CHECK constraint on the analyzed table. Column is
// filled only when the metadata attributes the check to a single column
// directly (column-level checks named after the column); otherwise
// attribution falls back to clause-text matching.
type CheckUsageRow struct {
	ConstraintName string
	Column         string
}

// CheckClauseRow pairs a CHECK constraint with its free-form clause text.
type CheckClauseRow struct {
	ConstraintName string
	Clause         string
}

// ColumnUsage is everything the schema mentions about a table and a set of
// candidate columns. Produced by loadColumnUsage, consumed by
// buildConstraintMap.
type ColumnUsage struct {
	KeyUsage     []KeyUsageRow
	CheckUsage   []CheckUsageRow
	CheckClauses []CheckClauseRow
	Triggers     []TriggerRef
	RoutineRefs  []RoutineRef
	ViewRefs     []ViewRef
}

// ColumnConstraintProfile aggregates every schema object attributed to one
// column. Blocking and advisory reasons are distinct tiers: a blocking reason
// means a bare type change is unsafe; an advisory reason means a routine or
// view mentions the column and a human should review it.
type ColumnConstraintProfile struct {
	Constraints     []ConstraintRef
	Triggers        []TriggerRef
	Routines        []RoutineRef
	Views           []ViewRef
	ConstraintKinds map[ConstraintKind]bool

	HasBlockingConstraint bool
	BlockingReasons       []string
	AdvisoryReasons       []string
	IsPrimaryKey          bool
}

// ColumnConversionRequest is one requested column with its chosen action.
type ColumnConversionRequest struct {
	Name              string
	Action            ConversionAction
	HandleConstraints bool
	Backup            bool   // create a scalar backup column before converting
	CustomSQL         string // only meaningful for ActionManual
}

// ColumnPreview describes the before/after shape of one requested column.
// Produced whether or not any statements were generated for it; a skipped or
// blocked column still gets a preview explaining why.
type ColumnPreview struct {
	Column            string
	OriginalType      string
	ExampleBefore     string
	ExampleAfter      string
	BackupColumn      string
	Blocked           bool
	Notes             []string
	DiagnosticQueries []string
}

// ConversionPlan is the full output for one table: executable statements in
// order, one preview per requested column, and the flattened script text
// (statements plus advisory comments) that the audit log persists.
type ConversionPlan struct {
	Statements []string
	Previews   []ColumnPreview
	ScriptText string
}

// ConversionLogEntry is one immutable audit-log row. Only touchScriptRun
// updates it, and only the run timestamp/author, never the script text.
type ConversionLogEntry struct {
	ID         int64
	Table      string
	Columns    string // CSV of requested column names
	ScriptText string
	RunAt      time.Time
	RunBy      string
}
