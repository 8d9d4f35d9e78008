package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds the full TOML-driven tool configuration.
type Config struct {
	MySQL MySQLConfig `toml:"mysql"`
	Audit AuditConfig `toml:"audit"`
	Plan  PlanConfig  `toml:"plan"`

	// configDir is the directory containing the TOML file, used to resolve
	// relative paths (sqlite audit database).
	configDir string
}

// MySQLConfig identifies the target database connection.
type MySQLConfig struct {
	DSN string `toml:"dsn"`
}

// AuditConfig selects where generated scripts are persisted.
type AuditConfig struct {
	Storage    string `toml:"storage"`     // "mysql" or "sqlite"
	SQLitePath string `toml:"sqlite_path"` // path to the local script database (sqlite storage only)
}

// PlanConfig carries planning defaults that individual CLI flags can override.
type PlanConfig struct {
	HandleConstraints bool   `toml:"handle_constraints"`
	Backup            bool   `toml:"backup"`
	RunBy             string `toml:"run_by"`
}

// loadConfig reads a TOML config file and returns a Config with defaults applied.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Config{
		Audit: AuditConfig{Storage: "mysql"},
		Plan:  PlanConfig{Backup: true},
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)

	if cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("mysql.dsn is required")
	}

	switch cfg.Audit.Storage {
	case "mysql":
	case "sqlite":
		if cfg.Audit.SQLitePath == "" {
			cfg.Audit.SQLitePath = "colshift_scripts.db"
		}
	default:
		return nil, fmt.Errorf("audit.storage must be one of: mysql, sqlite")
	}

	if cfg.Plan.RunBy == "" {
		cfg.Plan.RunBy = defaultRunBy()
	}

	return &cfg, nil
}

// resolvePath resolves a path relative to the config file directory.
func (c *Config) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.configDir, p)
}

func defaultRunBy() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "colshift"
}
