// Package config loads engine configuration from a TOML file, with
// defaults suitable for local development.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full engine configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Books    BooksConfig    `toml:"books"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	// Driver selects the store: "sqlite" or "postgres".
	Driver string `toml:"driver"`

	// DSN is the SQLite path (":memory:" allowed) or the PostgreSQL
	// connection string, depending on Driver.
	DSN string `toml:"dsn"`
}

type BooksConfig struct {
	// EnableOverdueState switches the status calculator from the
	// 3-state configuration to the 5-state one that reports overdue.
	// Both exist in production data.
	EnableOverdueState bool `toml:"enable_overdue_state"`

	// AuditRetentionDays bounds the audit trail; records older than
	// this are eligible for the maintenance purge. Zero disables
	// purging.
	AuditRetentionDays int `toml:"audit_retention_days"`
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "debt-engine.db",
		},
		Books: BooksConfig{
			EnableOverdueState: true,
			AuditRetentionDays: 0,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error:
// the defaults apply.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Books.AuditRetentionDays < 0 {
		return fmt.Errorf("audit retention days must not be negative")
	}
	return nil
}
