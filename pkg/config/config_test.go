package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(fakeEnv(map[string]string{"REPO_URL": "https://example.com/repo.git"}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DBModeMemory, cfg.DBMode)
	assert.Equal(t, 1_000_000, cfg.MaxDailyTokens)
	assert.Equal(t, 50_000, cfg.MaxTaskTokens)
	assert.Equal(t, 5, cfg.MaxConcurrentTasks)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestLoad_RejectsMissingRepoURL(t *testing.T) {
	_, err := Load(fakeEnv(nil))
	require.Error(t, err)
}

func TestLoad_RejectsInvalidDBMode(t *testing.T) {
	_, err := Load(fakeEnv(map[string]string{
		"REPO_URL": "https://example.com/repo.git",
		"DB_MODE":  "postgres",
	}))
	require.Error(t, err)
}

func TestLoad_FileModeRequiresDataDir(t *testing.T) {
	_, err := Load(fakeEnv(map[string]string{
		"REPO_URL":    "https://example.com/repo.git",
		"DB_MODE":     DBModeFile,
		"DB_DATA_DIR": "",
	}))
	require.Error(t, err)
}

func TestLoad_TaskTokensCannotExceedDailyTokens(t *testing.T) {
	_, err := Load(fakeEnv(map[string]string{
		"REPO_URL":         "https://example.com/repo.git",
		"MAX_DAILY_TOKENS": "100",
		"MAX_TASK_TOKENS":  "200",
	}))
	require.Error(t, err)
}

func TestLoad_ParsesOverrides(t *testing.T) {
	cfg, err := Load(fakeEnv(map[string]string{
		"REPO_URL":              "https://example.com/repo.git",
		"PORT":                  "9090",
		"MAX_DAILY_TOKENS":      "2000",
		"MAX_TASK_TOKENS":       "500",
		"MAX_CONCURRENT_TASKS":  "10",
		"MAX_RETRIES":           "1",
		"TOKEN_WINDOW_MS":       "60000",
		"HALF_OPEN_INTERVAL_MS": "5000",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2000, cfg.MaxDailyTokens)
	assert.Equal(t, 500, cfg.MaxTaskTokens)
	assert.Equal(t, 10, cfg.MaxConcurrentTasks)
	assert.Equal(t, 1, cfg.MaxRetries)
}
