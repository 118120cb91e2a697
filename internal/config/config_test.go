package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv clears every variable LoadFromEnv reads, then applies vars
func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, key := range []string{
		"TELEGRAM_BOT_TOKEN", "ALLOWED_USER_IDS", "WEBHOOK_MODE", "WEBHOOK_URL", "PORT",
		"STORAGE_BACKEND", "USE_MOCK_DB", "SQLITE_PATH", "STATS_TIMEZONE", "LOG_LEVEL", "LOG_FORMAT",
		"CLICKHOUSE_HOST", "CLICKHOUSE_PORT", "CLICKHOUSE_DATABASE", "CLICKHOUSE_USER",
		"CLICKHOUSE_PASSWORD", "CLICKHOUSE_USE_TLS",
	} {
		t.Setenv(key, "")
	}
	for key, value := range vars {
		t.Setenv(key, value)
	}
}

func TestLoadFromEnv_ClickHouseDefaults(t *testing.T) {
	setEnv(t, map[string]string{
		"TELEGRAM_BOT_TOKEN": "token",
		"ALLOWED_USER_IDS":   "1, 2",
		"CLICKHOUSE_HOST":    "localhost",
	})

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, cfg.AllowedUserIDs)
	assert.Equal(t, BackendClickHouse, cfg.StorageBackend)
	assert.Equal(t, 9000, cfg.ClickHousePort)
	assert.Equal(t, "default", cfg.ClickHouseDatabase)
	assert.Equal(t, "default", cfg.ClickHouseUser)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "UTC", cfg.StatsLocation.String())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.WebhookMode)
}

func TestLoadFromEnv_SQLite(t *testing.T) {
	setEnv(t, map[string]string{
		"TELEGRAM_BOT_TOKEN": "token",
		"ALLOWED_USER_IDS":   "1",
		"STORAGE_BACKEND":    "SQLite",
		"SQLITE_PATH":        "/tmp/ivy.db",
		"LOG_FORMAT":         "console",
	})

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.StorageBackend)
	assert.Equal(t, "/tmp/ivy.db", cfg.SQLitePath)
	assert.Empty(t, cfg.ClickHouseHost)
}

func TestLoadFromEnv_UseMockDB(t *testing.T) {
	setEnv(t, map[string]string{
		"TELEGRAM_BOT_TOKEN": "token",
		"ALLOWED_USER_IDS":   "1",
		"USE_MOCK_DB":        "true",
	})

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendMock, cfg.StorageBackend)
}

func TestLoadFromEnv_Errors(t *testing.T) {
	base := map[string]string{
		"TELEGRAM_BOT_TOKEN": "token",
		"ALLOWED_USER_IDS":   "1",
		"STORAGE_BACKEND":    "mock",
	}

	testCases := []struct {
		name     string
		override map[string]string
		contains string
	}{
		{"missing token", map[string]string{"TELEGRAM_BOT_TOKEN": ""}, "TELEGRAM_BOT_TOKEN"},
		{"missing users", map[string]string{"ALLOWED_USER_IDS": ""}, "ALLOWED_USER_IDS"},
		{"bad user id", map[string]string{"ALLOWED_USER_IDS": "1,abc"}, "invalid user ID"},
		{"webhook without url", map[string]string{"WEBHOOK_MODE": "true"}, "WEBHOOK_URL"},
		{"unknown backend", map[string]string{"STORAGE_BACKEND": "postgres"}, "STORAGE_BACKEND"},
		{"clickhouse without host", map[string]string{"STORAGE_BACKEND": "clickhouse"}, "CLICKHOUSE_HOST"},
		{"bad clickhouse port", map[string]string{"STORAGE_BACKEND": "clickhouse", "CLICKHOUSE_HOST": "h", "CLICKHOUSE_PORT": "x"}, "CLICKHOUSE_PORT"},
		{"bad timezone", map[string]string{"STATS_TIMEZONE": "Mars/Olympus"}, "STATS_TIMEZONE"},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			vars := make(map[string]string)
			for k, v := range base {
				vars[k] = v
			}
			for k, v := range tc.override {
				vars[k] = v
			}
			setEnv(t, vars)

			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}
