package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-ledger/config"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	// GIVEN: A config file overriding a subset of keys
	// WHEN: Loading it
	// THEN: Overridden keys change, untouched keys keep their defaults

	path := filepath.Join(t.TempDir(), "ledger.toml")
	content := `
[server]
port = 9090

[ledger]
overdue_days = 45

[scheduler]
enabled = false
check_interval_minutes = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45, cfg.Ledger.OverdueDays)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.CheckInterval())
	assert.Equal(t, 45*24*time.Hour, cfg.OverdueAfter())

	// Untouched keys keep defaults.
	assert.Equal(t, config.Default().Database.Path, cfg.Database.Path)
	assert.Equal(t, config.Default().Ledger.MaxRetryAttempts, cfg.Ledger.MaxRetryAttempts)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.toml")
	content := `
[server]
port = -1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_MalformedTOMLRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport="), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}
