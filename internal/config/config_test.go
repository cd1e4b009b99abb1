package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

storage:
  type: "postgres"
  database_url: "postgres://localhost/mailspace_test"

dispatch:
  retry_attempts: 5
  retry_pause_seconds: 1
  message_pause_seconds: 60

scheduler:
  enabled: true
  poll_interval_seconds: 30
  stale_processing_minutes: 15

public_url: "https://mail.example.com"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "postgres://localhost/mailspace_test", cfg.Storage.DatabaseURL)

	assert.Equal(t, 5, cfg.Dispatch.RetryAttempts)
	assert.Equal(t, 1, cfg.Dispatch.RetryPauseSeconds)
	assert.Equal(t, 60, cfg.Dispatch.MessagePauseSeconds)

	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 30, cfg.Scheduler.PollIntervalSeconds)
	assert.Equal(t, 15, cfg.Scheduler.StaleProcessingMinutes)

	assert.Equal(t, "https://mail.example.com", cfg.PublicURL)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  port: 0\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "MailSpace", cfg.Storage.TableName)
	assert.Equal(t, 3, cfg.Dispatch.RetryAttempts)
	assert.Equal(t, 2, cfg.Dispatch.RetryPauseSeconds)
	assert.Equal(t, 300, cfg.Dispatch.MessagePauseSeconds)
	assert.Equal(t, 60, cfg.Scheduler.PollIntervalSeconds)
	assert.Equal(t, 30, cfg.Scheduler.StaleProcessingMinutes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("storage:\n  type: \"memory\"\n"), 0644)
	require.NoError(t, err)

	t.Setenv("STORAGE_TYPE", "dynamo")
	t.Setenv("DYNAMO_TABLE", "MailSpaceTest")
	t.Setenv("SMTP_SECRET_KEY", "0123456789abcdef0123456789abcdef")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "dynamo", cfg.Storage.Type)
	assert.Equal(t, "MailSpaceTest", cfg.Storage.TableName)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Secrets.Key)
}

func TestLoadFromEnvWithoutFile(t *testing.T) {
	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestDurationHelpers(t *testing.T) {
	d := DispatchConfig{RetryPauseSeconds: 2, MessagePauseSeconds: 300}
	assert.Equal(t, "2s", d.RetryPause().String())
	assert.Equal(t, "5m0s", d.MessagePause().String())

	s := SchedulerConfig{PollIntervalSeconds: 60, StaleProcessingMinutes: 30, LockTTLMinutes: 10}
	assert.Equal(t, "1m0s", s.PollInterval().String())
	assert.Equal(t, "30m0s", s.StaleProcessingWindow().String())
	assert.Equal(t, "10m0s", s.LockTTL().String())
}
