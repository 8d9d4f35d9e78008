package main

import (
	"strings"
	"testing"
)

func TestStatementRendering(t *testing.T) {
	tests := []struct {
		name string
		stmt Statement
		want string
	}{
		{"drop fk", DropForeignKey{Table: "invoices", Name: "fk_order"}, "ALTER TABLE `invoices` DROP FOREIGN KEY `fk_order`"},
		{"drop unique", DropUniqueKey{Table: "orders", Name: "uq_code"}, "ALTER TABLE `orders` DROP INDEX `uq_code`"},
		{"drop check", DropCheckConstraint{Table: "orders", Name: "chk", At: phaseDrop}, "ALTER TABLE `orders` DROP CHECK `chk`"},
		{"drop check if exists", DropCheckConstraint{Table: "orders", Name: "chk", IfExists: true, At: phaseCheck}, "ALTER TABLE `orders` DROP CHECK IF EXISTS `chk`"},
		{"drop trigger", DropTrigger{Name: "trg"}, "DROP TRIGGER IF EXISTS `trg`"},
		{"add column", AddColumn{Table: "orders", Column: "tags_json_multi", Type: "JSON", At: phaseBackup}, "ALTER TABLE `orders` ADD COLUMN `tags_json_multi` JSON"},
		{"copy column", CopyColumn{Table: "orders", From: "tags", To: "tags_scalar_backup"}, "UPDATE `orders` SET `tags_scalar_backup` = `tags`"},
		{"modify json", ModifyColumnJSON{Table: "orders", Column: "tags"}, "ALTER TABLE `orders` MODIFY COLUMN `tags` JSON"},
		{"populate", PopulateJSON{Table: "orders", Column: "tags", Source: "tags_scalar_backup"}, "UPDATE `orders` SET `tags` = JSON_ARRAY(`tags_scalar_backup`) WHERE `tags_scalar_backup` IS NOT NULL"},
		{"json check", AddJSONCheck{Table: "orders", Column: "tags", Name: "tags_json_check"}, "ALTER TABLE `orders` ADD CONSTRAINT `tags_json_check` CHECK (JSON_VALID(`tags`) AND JSON_TYPE(`tags`) = 'ARRAY')"},
		{"add fk", AddForeignKey{Table: "invoices", Name: "fk", Column: "order_id", RefTable: "orders", RefColumn: "id_scalar_backup"}, "ALTER TABLE `invoices` ADD CONSTRAINT `fk` FOREIGN KEY (`order_id`) REFERENCES `orders` (`id_scalar_backup`)"},
		{"add unique", AddUniqueKey{Table: "orders", Name: "uq", Column: "code_scalar_backup"}, "ALTER TABLE `orders` ADD UNIQUE KEY `uq` (`code_scalar_backup`)"},
		{"comment", Comment{Text: "review this", At: phaseDrop}, "-- review this"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stmt.Render(); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMySQLIdent(t *testing.T) {
	if got := mysqlIdent("plain"); got != "`plain`" {
		t.Errorf("mysqlIdent(plain) = %q", got)
	}
	if got := mysqlIdent("we`ird"); got != "`we``ird`" {
		t.Errorf("embedded backtick not doubled: %q", got)
	}
}

func TestOrderStatements_PhaseOrder(t *testing.T) {
	// Deliberately appended out of order; the tags must fix it.
	stmts := []Statement{
		AddJSONCheck{Table: "t", Column: "c", Name: "c_json_check"},
		PopulateJSON{Table: "t", Column: "c", Source: "b"},
		AddForeignKey{Table: "t", Name: "fk", Column: "b", RefTable: "r", RefColumn: "x"},
		ModifyColumnJSON{Table: "t", Column: "c"},
		CopyColumn{Table: "t", From: "c", To: "b"},
		DropForeignKey{Table: "t", Name: "fk"},
		AddColumn{Table: "t", Column: "b", Type: "int", At: phaseBackup},
	}

	main, post := orderStatements(stmts)
	if len(post) != 1 {
		t.Fatalf("expected 1 post statement, got %d", len(post))
	}
	last := phaseDrop
	for _, s := range main {
		if s.Phase() < last {
			t.Errorf("phase regression: %q (phase %d) after phase %d", s.Render(), s.Phase(), last)
		}
		last = s.Phase()
	}
	if main[0].Render() != "ALTER TABLE `t` DROP FOREIGN KEY `fk`" {
		t.Errorf("drop should come first, got %q", main[0].Render())
	}
}

func TestRenderExecutableSkipsComments(t *testing.T) {
	stmts := []Statement{
		Comment{Text: "advisory", At: phaseDrop},
		DropTrigger{Name: "trg"},
	}
	out := renderExecutable(stmts)
	if len(out) != 1 || strings.HasPrefix(out[0], "--") {
		t.Errorf("comments must not be executable, got %v", out)
	}

	lines := renderScriptLines(stmts)
	if lines[0] != "-- advisory" {
		t.Errorf("script comment unterminated, got %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ";") {
		t.Errorf("script statement terminated with ';', got %q", lines[1])
	}
}
