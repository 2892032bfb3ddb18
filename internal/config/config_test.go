package config

import (
	"os"
	"path/filepath"
	"testing"

	"chatrelay/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `{
	"database": {"path": "/tmp/chatrelay.db"},
	"sources": [
		{"slug": "telegram", "display_name": "Telegram", "inbound_secret": "s1", "outbound_endpoint_template": "http://tg/send"},
		{"slug": "slack", "display_name": "Slack"}
	],
	"operators": {"key-1": "alice"},
	"log_level": "debug"
}`

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/chatrelay.db", cfg.Database.Path)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "telegram", cfg.Sources[0].Slug)
	assert.Equal(t, "alice", cfg.Operators["key-1"])
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultDispatchWorkers, cfg.Dispatch.Workers)
	assert.Equal(t, constants.DefaultDispatchQueueSize, cfg.Dispatch.QueueSize)
	assert.Equal(t, constants.DefaultDeliveryTimeoutSec, cfg.Dispatch.TimeoutSec)
	assert.Equal(t, constants.DefaultDeliveryMaxAttempts, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, constants.DefaultDeliveryBackoffMs, cfg.Dispatch.InitialBackoffMs)
	assert.Equal(t, constants.DefaultRetentionDays, cfg.RetentionDays)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{not json`))
	require.Error(t, err)
}

func TestLoadConfigMissingDatabasePath(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"sources": [{"slug": "telegram"}]}`))
	assert.ErrorIs(t, err, ErrMissingDBPath)
}

func TestLoadConfigMissingSources(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"database": {"path": "/tmp/x.db"}, "sources": []}`))
	assert.ErrorIs(t, err, ErrMissingSources)
}

func TestLoadConfigDuplicateSlug(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{
		"database": {"path": "/tmp/x.db"},
		"sources": [{"slug": "telegram"}, {"slug": "telegram"}]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate source slug")
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/override.db")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("CHATRELAY_SECRET_TELEGRAM", "env-secret")

	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "env-secret", cfg.Sources[0].InboundSecret)
	assert.Empty(t, cfg.Sources[1].InboundSecret)
}

func TestSecretEnvName(t *testing.T) {
	assert.Equal(t, "CHATRELAY_SECRET_TELEGRAM", secretEnvName("telegram"))
	assert.Equal(t, "CHATRELAY_SECRET_MY_SOURCE", secretEnvName("my-source"))
}
