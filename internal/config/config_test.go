package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 50, cfg.Outreach.SendRate)
	assert.Equal(t, 1, cfg.Processor.LiveBatchSize)
	assert.Equal(t, 500, cfg.Processor.DryRunBatchSize)
	assert.Equal(t, 30*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, "campaign_batches", cfg.AMQP.BatchQueue)
	assert.False(t, cfg.AMQP.Enabled())
	assert.Equal(t, "1000", cfg.Outreach.VIPThresholdDecimal().String())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	yaml := []byte("database:\n  driver: sqlite3\n  path: /tmp/x.db\noutreach:\n  send_rate: 120\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("OUTREACH_TRANSPORT_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 120, cfg.Outreach.SendRate)
	assert.Equal(t, 5*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, "/tmp/x.db?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on", cfg.Database.DSN())
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	t.Setenv("OUTREACH_TRANSPORT_KIND", "pigeon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport kind")
}

func TestPostgresDSN(t *testing.T) {
	c := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, Name: "outreach", User: "app", Password: "p@ss", SSLMode: "disable"}
	assert.Equal(t, "postgres://app:p%40ss@db:5432/outreach?sslmode=disable", c.DSN())
}
