package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally/debt-engine/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "debt-engine.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_MissingFile_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 9000

[database]
driver = "postgres"
dsn = "postgres://localhost/books"

[books]
enable_overdue_state = false
audit_retention_days = 365
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/books", cfg.Database.DSN)
	assert.False(t, cfg.Books.EnableOverdueState)
	assert.Equal(t, 365, cfg.Books.AuditRetentionDays)
}

func TestLoad_PartialFile_KeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 3000
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Books.EnableOverdueState)
}

func TestLoad_UnknownDriver_Rejected(t *testing.T) {
	path := writeConfig(t, `
[database]
driver = "oracle"
`)

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestLoad_InvalidPort_Rejected(t *testing.T) {
	path := writeConfig(t, `
[server]
port = -1
`)

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "invalid server port")
}

func TestLoad_NegativeRetention_Rejected(t *testing.T) {
	path := writeConfig(t, `
[books]
audit_retention_days = -5
`)

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "retention days")
}
