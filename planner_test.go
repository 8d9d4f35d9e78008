package main

import (
	"strings"
	"testing"
)

func emptyProfile() *ColumnConstraintProfile {
	return &ColumnConstraintProfile{ConstraintKinds: make(map[ConstraintKind]bool)}
}

func convertRequest(name string) ColumnConversionRequest {
	return ColumnConversionRequest{Name: name, Action: ActionConvert, Backup: true}
}

func TestPlanColumn_PlainConversionOrder(t *testing.T) {
	meta := ColumnMetadata{Name: "tags", DeclaredType: "varchar(255)", Nullable: true}
	cp := planColumn("orders", meta, convertRequest("tags"), emptyProfile())

	if cp.Skipped {
		t.Fatal("plain conversion should not be skipped")
	}
	stmts := renderExecutable(cp.Statements)
	want := []string{
		"ALTER TABLE `orders` ADD COLUMN `tags_scalar_backup` varchar(255)",
		"UPDATE `orders` SET `tags_scalar_backup` = `tags`",
		"ALTER TABLE `orders` MODIFY COLUMN `tags` JSON",
		"UPDATE `orders` SET `tags` = JSON_ARRAY(`tags_scalar_backup`) WHERE `tags_scalar_backup` IS NOT NULL",
		"ALTER TABLE `orders` DROP CHECK IF EXISTS `tags_json_check`",
		"ALTER TABLE `orders` ADD CONSTRAINT `tags_json_check` CHECK (JSON_VALID(`tags`) AND JSON_TYPE(`tags`) = 'ARRAY')",
	}
	if len(stmts) != len(want) {
		t.Fatalf("expected %d statements, got %d:\n%s", len(want), len(stmts), strings.Join(stmts, "\n"))
	}
	for i := range want {
		if stmts[i] != want[i] {
			t.Errorf("statement %d = %q, want %q", i, stmts[i], want[i])
		}
	}

	if cp.Preview.ExampleAfter != `["123"]` {
		t.Errorf("ExampleAfter = %q, want %q", cp.Preview.ExampleAfter, `["123"]`)
	}
	if cp.Preview.BackupColumn != "tags_scalar_backup" {
		t.Errorf("BackupColumn = %q", cp.Preview.BackupColumn)
	}
}

func TestPlanColumn_PrimaryKeyBlocked(t *testing.T) {
	meta := ColumnMetadata{Name: "id", DeclaredType: "int", IsPrimaryKey: true}
	profile := emptyProfile()
	profile.IsPrimaryKey = true
	profile.HasBlockingConstraint = true

	req := ColumnConversionRequest{Name: "id", Action: ActionConvert, Backup: true, HandleConstraints: true}
	cp := planColumn("orders", meta, req, profile)
	if !cp.Skipped {
		t.Error("PK column should be skipped")
	}
	if !cp.Preview.Blocked {
		t.Error("PK column should be blocked")
	}
	if len(cp.Statements) != 0 {
		t.Error("PK column should produce zero statements")
	}
	notes := strings.Join(cp.Preview.Notes, "\n")
	if !strings.Contains(notes, "companion") {
		t.Errorf("notes should recommend companion, got:\n%s", notes)
	}
}

func TestPlanColumn_PrimaryKeyCompanionAllowed(t *testing.T) {
	meta := ColumnMetadata{Name: "id", DeclaredType: "int unsigned", IsPrimaryKey: true}
	profile := emptyProfile()
	profile.IsPrimaryKey = true
	profile.HasBlockingConstraint = true

	req := ColumnConversionRequest{Name: "id", Action: ActionCompanion, Backup: true}
	cp := planColumn("orders", meta, req, profile)
	if cp.Skipped || cp.Preview.Blocked {
		t.Fatal("companion must be allowed for PK columns")
	}
	stmts := strings.Join(renderExecutable(cp.Statements), "\n")
	if !strings.Contains(stmts, "ADD COLUMN `id_json_multi` JSON") {
		t.Errorf("companion plan should add id_json_multi, got:\n%s", stmts)
	}
	if strings.Contains(stmts, "MODIFY COLUMN `id`") {
		t.Errorf("companion plan must not touch the original column, got:\n%s", stmts)
	}
	// Round-trip: planning never mutates the metadata snapshot.
	if meta.DeclaredType != "int unsigned" {
		t.Errorf("original declared type changed: %q", meta.DeclaredType)
	}
}

func TestPlanColumn_SkipShortCircuits(t *testing.T) {
	meta := ColumnMetadata{Name: "status", DeclaredType: "varchar(32)"}
	profile := emptyProfile()
	profile.HasBlockingConstraint = true
	profile.BlockingReasons = []string{"check constraint `status_chk` on column"}

	req := ColumnConversionRequest{Name: "status", Action: ActionSkip, Backup: true, HandleConstraints: true}
	cp := planColumn("orders", meta, req, profile)
	if !cp.Skipped {
		t.Fatal("skip should be skipped")
	}
	if len(cp.Statements) != 0 {
		t.Fatal("skip should produce zero statements regardless of constraints")
	}
	notes := strings.Join(cp.Preview.Notes, "\n")
	if !strings.Contains(notes, "skipped by admin") {
		t.Errorf("notes should record admin skip, got:\n%s", notes)
	}
	// The blocking state is still surfaced for visibility.
	if !strings.Contains(notes, "status_chk") {
		t.Errorf("notes should surface blocking constraints, got:\n%s", notes)
	}
}

func TestPlanColumn_ManualEchoesSQL(t *testing.T) {
	meta := ColumnMetadata{Name: "payload", DeclaredType: "text"}
	req := ColumnConversionRequest{Name: "payload", Action: ActionManual, CustomSQL: "UPDATE orders SET payload = '[]'"}
	cp := planColumn("orders", meta, req, emptyProfile())

	if !cp.Skipped || !cp.Preview.Blocked {
		t.Fatal("manual should block with zero generated statements")
	}
	if len(cp.Statements) != 0 {
		t.Fatal("manual must not generate statements")
	}
	notes := strings.Join(cp.Preview.Notes, "\n")
	if !strings.Contains(notes, "UPDATE orders SET payload = '[]'") {
		t.Errorf("notes should echo the supplied SQL, got:\n%s", notes)
	}
}

func TestPlanColumn_BlockedWithoutHandling(t *testing.T) {
	meta := ColumnMetadata{Name: "status", DeclaredType: "varchar(32)"}
	profile := emptyProfile()
	profile.HasBlockingConstraint = true
	profile.ConstraintKinds[KindCheck] = true
	profile.BlockingReasons = []string{"check constraint `status_chk` clause mentions column: status in ('a','b')"}
	profile.Constraints = []ConstraintRef{{
		Name: "status_chk", Kind: KindCheck, OwningTable: "orders", OwningColumn: "status",
		Direction: DirCheck, CheckClause: "status in ('a','b')",
	}}

	req := ColumnConversionRequest{Name: "status", Action: ActionConvert, Backup: true, HandleConstraints: false}
	cp := planColumn("orders", meta, req, profile)
	if !cp.Preview.Blocked || len(cp.Statements) != 0 {
		t.Fatal("blocked column without constraint handling should emit nothing")
	}
	notes := strings.Join(cp.Preview.Notes, "\n")
	if !strings.Contains(notes, "enable constraint handling") {
		t.Errorf("notes should instruct enabling constraint handling, got:\n%s", notes)
	}
	if len(cp.Preview.DiagnosticQueries) == 0 {
		t.Error("blocked preview should carry diagnostic queries")
	}
}

func TestPlanColumn_DropsPrecedeAlter(t *testing.T) {
	meta := ColumnMetadata{Name: "status", DeclaredType: "varchar(32)"}
	profile := emptyProfile()
	profile.HasBlockingConstraint = true
	profile.ConstraintKinds[KindCheck] = true
	profile.Constraints = []ConstraintRef{{
		Name: "status_chk", Kind: KindCheck, OwningTable: "orders", OwningColumn: "status",
		Direction: DirCheck, CheckClause: "status in ('a','b')",
	}}
	profile.Triggers = []TriggerRef{{Name: "status_audit", EventTable: "orders", Timing: "AFTER", Event: "UPDATE"}}

	req := ColumnConversionRequest{Name: "status", Action: ActionConvert, Backup: true, HandleConstraints: true}
	cp := planColumn("orders", meta, req, profile)

	stmts := renderExecutable(cp.Statements)
	alterIdx := -1
	for i, s := range stmts {
		if strings.Contains(s, "MODIFY COLUMN `status` JSON") {
			alterIdx = i
		}
	}
	if alterIdx < 0 {
		t.Fatalf("no ALTER MODIFY in plan:\n%s", strings.Join(stmts, "\n"))
	}
	for i, s := range stmts {
		isDrop := strings.Contains(s, "DROP CHECK IF EXISTS `status_chk`") || strings.Contains(s, "DROP TRIGGER IF EXISTS `status_audit`")
		if isDrop && i > alterIdx {
			t.Errorf("drop statement %q appears after ALTER MODIFY", s)
		}
	}
}

func TestPlanColumn_IncomingForeignKey(t *testing.T) {
	meta := ColumnMetadata{Name: "customer_id", DeclaredType: "int"}
	profile := emptyProfile()
	profile.HasBlockingConstraint = true
	profile.ConstraintKinds[KindForeignKey] = true
	profile.Constraints = []ConstraintRef{{
		Name: "customer_id_fk", Kind: KindForeignKey,
		OwningTable: "invoices", OwningColumn: "customer_id",
		Direction: DirIncoming, ReferencedTable: "orders", ReferencedColumn: "customer_id",
	}}

	req := ColumnConversionRequest{Name: "customer_id", Action: ActionConvert, Backup: true, HandleConstraints: true}
	cp := planColumn("orders", meta, req, profile)

	stmts := strings.Join(renderExecutable(cp.Statements), "\n")
	if !strings.Contains(stmts, "ALTER TABLE `invoices` DROP FOREIGN KEY `customer_id_fk`") {
		t.Errorf("FK drop must be scoped to the owning table, got:\n%s", stmts)
	}

	if len(cp.Post) == 0 {
		t.Fatal("incoming FK with backup should produce a post re-attachment")
	}
	post := cp.Post[0].Render()
	if !strings.Contains(post, "ALTER TABLE `invoices` ADD CONSTRAINT `customer_id_fk` FOREIGN KEY (`customer_id`) REFERENCES `orders` (`customer_id_scalar_backup`)") {
		t.Errorf("post statement should re-point the FK at the backup column, got: %s", post)
	}
}

func TestPlanColumn_NoBackupWarns(t *testing.T) {
	meta := ColumnMetadata{Name: "tags", DeclaredType: "varchar(255)"}
	req := ColumnConversionRequest{Name: "tags", Action: ActionConvert, Backup: false}
	cp := planColumn("orders", meta, req, emptyProfile())

	stmts := strings.Join(renderExecutable(cp.Statements), "\n")
	if strings.Contains(stmts, "tags_scalar_backup") {
		t.Errorf("no-backup plan should not mention a backup column:\n%s", stmts)
	}
	if !strings.Contains(stmts, "JSON_ARRAY(`tags`)") {
		t.Errorf("no-backup plan should populate from the column itself:\n%s", stmts)
	}
	notes := strings.Join(cp.Preview.Notes, "\n")
	if !strings.Contains(notes, "WARNING") {
		t.Errorf("disabling the backup is destructive and must be flagged, got:\n%s", notes)
	}
}

func TestPlanColumn_AdvisorySurfacedNotBlocking(t *testing.T) {
	meta := ColumnMetadata{Name: "tags", DeclaredType: "varchar(255)"}
	profile := emptyProfile()
	profile.Routines = []RoutineRef{{Name: "recalc_totals"}}
	profile.AdvisoryReasons = []string{"advisory: routine `recalc_totals` mentions column, review manually"}

	cp := planColumn("orders", meta, convertRequest("tags"), profile)
	if cp.Preview.Blocked {
		t.Fatal("advisory references alone must not block conversion")
	}
	if len(cp.Statements) == 0 {
		t.Fatal("advisory references alone must not suppress statements")
	}
	notes := strings.Join(cp.Preview.Notes, "\n")
	if !strings.Contains(notes, "recalc_totals") {
		t.Errorf("advisory reference should be surfaced in notes, got:\n%s", notes)
	}
}

func TestPlanTable_TwoPhaseScript(t *testing.T) {
	metadata := map[string]ColumnMetadata{
		"customer_id": {Name: "customer_id", DeclaredType: "int"},
		"tags":        {Name: "tags", DeclaredType: "varchar(255)", Nullable: true},
	}
	fkProfile := emptyProfile()
	fkProfile.HasBlockingConstraint = true
	fkProfile.ConstraintKinds[KindForeignKey] = true
	fkProfile.Constraints = []ConstraintRef{{
		Name: "customer_id_fk", Kind: KindForeignKey,
		OwningTable: "invoices", OwningColumn: "customer_id",
		Direction: DirIncoming, ReferencedTable: "orders", ReferencedColumn: "customer_id",
	}}
	profiles := map[string]*ColumnConstraintProfile{
		"customer_id": fkProfile,
		"tags":        emptyProfile(),
	}
	requests := []ColumnConversionRequest{
		{Name: "customer_id", Action: ActionConvert, Backup: true, HandleConstraints: true},
		{Name: "tags", Action: ActionConvert, Backup: true},
	}

	plan := planTable("orders", requests, metadata, profiles)

	// The FK re-attachment must come after every conversion statement,
	// including the later column's.
	readdIdx, tagsAlterIdx := -1, -1
	for i, s := range plan.Statements {
		if strings.Contains(s, "ADD CONSTRAINT `customer_id_fk` FOREIGN KEY") {
			readdIdx = i
		}
		if strings.Contains(s, "MODIFY COLUMN `tags` JSON") {
			tagsAlterIdx = i
		}
	}
	if readdIdx < 0 || tagsAlterIdx < 0 {
		t.Fatalf("missing expected statements:\n%s", strings.Join(plan.Statements, "\n"))
	}
	if readdIdx < tagsAlterIdx {
		t.Errorf("post re-attachment (index %d) should trail all conversions (tags alter at %d)", readdIdx, tagsAlterIdx)
	}

	if len(plan.Previews) != 2 {
		t.Fatalf("expected 2 previews, got %d", len(plan.Previews))
	}
}

func TestPlanTable_Idempotent(t *testing.T) {
	metadata := map[string]ColumnMetadata{
		"tags": {Name: "tags", DeclaredType: "varchar(255)", Nullable: true},
	}
	profiles := map[string]*ColumnConstraintProfile{"tags": emptyProfile()}
	requests := []ColumnConversionRequest{convertRequest("tags")}

	a := planTable("orders", requests, metadata, profiles)
	b := planTable("orders", requests, metadata, profiles)

	if a.ScriptText != b.ScriptText {
		t.Error("identical inputs must yield identical script text")
	}
	if len(a.Statements) != len(b.Statements) {
		t.Fatal("identical inputs must yield identical statements")
	}
	for i := range a.Statements {
		if a.Statements[i] != b.Statements[i] {
			t.Errorf("statement %d differs between runs", i)
		}
	}
}

func TestPlanTable_UnknownColumn(t *testing.T) {
	plan := planTable("orders", []ColumnConversionRequest{convertRequest("nope")},
		map[string]ColumnMetadata{}, map[string]*ColumnConstraintProfile{})

	if len(plan.Statements) != 0 {
		t.Fatal("unknown column must not generate statements")
	}
	if len(plan.Previews) != 1 || !plan.Previews[0].Blocked {
		t.Fatal("unknown column should get a blocked preview")
	}
	if !strings.Contains(plan.ScriptText, "not found") {
		t.Errorf("script should carry a not-found comment:\n%s", plan.ScriptText)
	}
}

func TestPlanTable_ScriptTextRendering(t *testing.T) {
	metadata := map[string]ColumnMetadata{
		"tags":  {Name: "tags", DeclaredType: "varchar(255)"},
		"notes": {Name: "notes", DeclaredType: "text"},
	}
	profiles := map[string]*ColumnConstraintProfile{
		"tags":  emptyProfile(),
		"notes": emptyProfile(),
	}
	requests := []ColumnConversionRequest{
		convertRequest("tags"),
		{Name: "notes", Action: ActionSkip},
	}

	plan := planTable("orders", requests, metadata, profiles)

	for _, line := range strings.Split(strings.TrimRight(plan.ScriptText, "\n"), "\n") {
		if strings.HasPrefix(line, "--") {
			if strings.HasSuffix(line, ";") {
				t.Errorf("comment line should not be terminated: %q", line)
			}
			continue
		}
		if !strings.HasSuffix(line, ";") {
			t.Errorf("statement line should end with ';': %q", line)
		}
	}
	if !strings.Contains(plan.ScriptText, "-- column `notes` (skip)") {
		t.Errorf("skip should be rendered as a comment:\n%s", plan.ScriptText)
	}
	// The skipped column contributes no executable statements.
	for _, s := range plan.Statements {
		if strings.Contains(s, "`notes`") {
			t.Errorf("skipped column leaked into statements: %q", s)
		}
	}
}
