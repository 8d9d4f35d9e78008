package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "colshift",
	Short: "Schema-aware MySQL scalar-to-JSON column conversion planner",
	Long: `colshift inspects live schema metadata (keys, CHECK constraints, triggers,
routines, views) to determine which dependents would break if a column's type
changed from scalar to JSON, and emits an ordered, reversible DDL/DML script
plus a human-readable preview. Scripts are always previewed and logged before
anything runs; execution is a separate, explicit step.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "colshift.toml", "path to TOML config file")
	rootCmd.AddCommand(columnsCmd(), planCmd(), scriptsCmd(), showCmd(), replayCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openTarget loads config and opens the target MySQL connection.
func openTarget(ctx context.Context) (*Config, *sql.DB, string, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, "", err
	}

	dsn, err := mysqlDSNWithOptions(cfg.MySQL.DSN)
	if err != nil {
		return nil, nil, "", err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, "", fmt.Errorf("open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, "", fmt.Errorf("ping mysql: %w", err)
	}

	dbName, err := extractMySQLDBName(cfg.MySQL.DSN)
	if err != nil {
		db.Close()
		return nil, nil, "", err
	}
	return cfg, db, dbName, nil
}

func columnsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "columns <table>",
		Short: "List a table's columns with their constraint profiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, db, dbName, err := openTarget(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			table := args[0]
			matcher := newWordBoundaryMatcher()
			cache := NewUsageCache()
			token := schemaVersionToken(db, dbName)

			infos, err := listColumns(db, dbName, table, cache, token, matcher)
			if err != nil {
				return err
			}

			for _, info := range infos {
				flags := ""
				if info.IsPrimaryKey {
					flags = " [primary key]"
				}
				nullable := "NOT NULL"
				if info.Nullable {
					nullable = "NULL"
				}
				fmt.Printf("%s %s %s%s\n", info.Name, info.DeclaredType, nullable, flags)
				for _, reason := range info.Profile.BlockingReasons {
					fmt.Printf("  blocking: %s\n", reason)
				}
				for _, reason := range info.Profile.AdvisoryReasons {
					fmt.Printf("  %s\n", reason)
				}
				for _, tr := range info.Profile.Triggers {
					fmt.Printf("  trigger %s: %s\n", tr.Name, truncate(tr.StatementPreview, 120))
				}
			}
			return nil
		},
	}
}

func planCmd() *cobra.Command {
	var execute, handleConstraints, noBackup bool
	var manualSQL, runBy string

	cmd := &cobra.Command{
		Use:   "plan <table> <column>[:action] ...",
		Short: "Build (and optionally execute) a conversion plan for a table",
		Long: `Build a conversion plan for the named columns. Each column takes an optional
action suffix: convert (default), skip, manual, or companion. The generated
script is printed, recorded in the audit log, and only executed when --execute
is given.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, db, dbName, err := openTarget(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			table := args[0]
			if !cmd.Flags().Changed("handle-constraints") {
				handleConstraints = cfg.Plan.HandleConstraints
			}
			backup := cfg.Plan.Backup && !noBackup
			if runBy == "" {
				runBy = cfg.Plan.RunBy
			}

			requests, err := parseColumnArgs(args[1:], handleConstraints, backup, manualSQL)
			if err != nil {
				return err
			}

			cols, err := introspectTableColumns(db, dbName, table)
			if err != nil {
				return err
			}
			metadata := make(map[string]ColumnMetadata, len(cols))
			for _, c := range cols {
				metadata[c.Name] = c
			}

			names := make([]string, len(requests))
			for i, r := range requests {
				names[i] = r.Name
			}
			matcher := newWordBoundaryMatcher()
			cache := NewUsageCache()
			token := schemaVersionToken(db, dbName)
			profiles := columnProfiles(db, dbName, table, names, cache, token, matcher)

			plan := planTable(table, requests, metadata, profiles)

			fmt.Print(plan.ScriptText)
			fmt.Println()
			printPreviews(plan.Previews)

			store, err := newScriptStore(cfg, db)
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := store.RecordConversionLog(ctx, table, requestColumnsCSV(requests), plan.ScriptText, runBy)
			if err != nil {
				return err
			}
			log.Printf("script recorded as #%d", id)

			if !execute {
				return nil
			}
			if len(plan.Statements) == 0 {
				log.Printf("nothing to execute")
				return nil
			}
			log.Printf("executing %d statements in one transaction...", len(plan.Statements))
			if err := runPlanStatements(ctx, db, plan.Statements); err != nil {
				return err
			}
			if err := store.TouchScriptRun(ctx, id, runBy); err != nil {
				return err
			}
			log.Printf("done")
			return nil
		},
	}

	cmd.Flags().BoolVar(&execute, "execute", false, "run the generated statements after recording the script")
	cmd.Flags().BoolVar(&handleConstraints, "handle-constraints", false, "generate drop/re-attach statements for blocking constraints")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip the scalar backup column (destructive)")
	cmd.Flags().StringVar(&manualSQL, "manual-sql", "", "prerequisite SQL for columns with action 'manual'")
	cmd.Flags().StringVar(&runBy, "run-by", "", "author recorded in the audit log (default from config)")
	return cmd
}

func scriptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scripts",
		Short: "List saved conversion scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, db, _, err := openTarget(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := newScriptStore(cfg, db)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.ListSavedScripts(ctx)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("#%d %s (%s) by %s at %s\n", e.ID, e.Table, e.Columns, e.RunBy, e.RunAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one saved conversion script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid script id %q", args[0])
			}
			cfg, db, _, err := openTarget(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := newScriptStore(cfg, db)
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := store.GetSavedScript(ctx, id)
			if err != nil {
				return err
			}
			fmt.Print(entry.ScriptText)
			return nil
		},
	}
}

func replayCmd() *cobra.Command {
	var runBy string

	cmd := &cobra.Command{
		Use:   "replay <id>",
		Short: "Re-run a saved conversion script in one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid script id %q", args[0])
			}
			cfg, db, _, err := openTarget(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := newScriptStore(cfg, db)
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := store.GetSavedScript(ctx, id)
			if err != nil {
				return err
			}
			stmts := splitScript(entry.ScriptText)
			if len(stmts) == 0 {
				return fmt.Errorf("script %d has no executable statements", id)
			}
			if runBy == "" {
				runBy = cfg.Plan.RunBy
			}

			log.Printf("replaying script #%d (%d statements)...", id, len(stmts))
			if err := runPlanStatements(ctx, db, stmts); err != nil {
				return err
			}
			if err := store.TouchScriptRun(ctx, id, runBy); err != nil {
				return err
			}
			log.Printf("done")
			return nil
		},
	}

	cmd.Flags().StringVar(&runBy, "run-by", "", "author recorded for the re-run (default from config)")
	return cmd
}

// parseColumnArgs parses "name" or "name:action" column arguments into
// requests carrying the shared plan options.
func parseColumnArgs(args []string, handleConstraints, backup bool, manualSQL string) ([]ColumnConversionRequest, error) {
	seen := make(map[string]bool, len(args))
	requests := make([]ColumnConversionRequest, 0, len(args))
	for _, arg := range args {
		name, actionStr, hasAction := strings.Cut(arg, ":")
		if name == "" {
			return nil, fmt.Errorf("empty column name in %q", arg)
		}
		if seen[name] {
			return nil, fmt.Errorf("column %q requested twice", name)
		}
		seen[name] = true

		action := ActionConvert
		if hasAction {
			a, ok := parseAction(actionStr)
			if !ok {
				return nil, fmt.Errorf("unknown action %q for column %q (must be convert, skip, manual, or companion)", actionStr, name)
			}
			action = a
		}

		req := ColumnConversionRequest{
			Name:              name,
			Action:            action,
			HandleConstraints: handleConstraints,
			Backup:            backup,
		}
		if action == ActionManual {
			req.CustomSQL = manualSQL
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func printPreviews(previews []ColumnPreview) {
	for _, p := range previews {
		state := "ready"
		if p.Blocked {
			state = "blocked"
		}
		fmt.Printf("%s (%s) %s\n", p.Column, p.OriginalType, state)
		if p.BackupColumn != "" {
			fmt.Printf("  backup column: %s\n", p.BackupColumn)
		}
		if !p.Blocked && p.ExampleBefore != "" {
			fmt.Printf("  example: %s -> %s\n", p.ExampleBefore, p.ExampleAfter)
		}
		for _, n := range p.Notes {
			fmt.Printf("  %s\n", n)
		}
		for _, q := range p.DiagnosticQueries {
			fmt.Printf("  verify: %s\n", q)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
