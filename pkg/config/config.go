// Package config loads process configuration from environment variables,
// per spec.md §6's enumerated configuration list: PORT, MODEL_API_KEY,
// DB_MODE, DB_DATA_DIR, CHROME_PATH, the breaker thresholds, TOKEN_WINDOW_MS,
// HALF_OPEN_INTERVAL_MS, REPO_URL, WORK_DIR.
//
// Grounded on pkg/database/config.go's LoadConfigFromEnv shape
// (getEnvOrDefault helpers, parse-then-validate, one Config struct) --
// generalized from database connection settings to the whole process's
// env surface, since this revision has no relational database to
// configure (see pkg/store's DESIGN.md entry for why).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved, validated process configuration.
type Config struct {
	Port string

	ModelAPIKey  string
	ModelBaseURL string

	DBMode    string // "memory" or "file"
	DBDataDir string

	ChromePath string

	MaxDailyTokens       int
	MaxTaskTokens        int
	MaxConcurrentTasks   int
	MaxRetries           int
	TokenWindow          time.Duration
	HalfOpenInterval     time.Duration
	TripFailureThreshold int

	RepoURL string
	WorkDir string
}

const (
	DBModeMemory = "memory"
	DBModeFile   = "file"
)

// Load reads every variable spec.md §6 names from the environment,
// applies defaults where the spec doesn't mandate a literal value, and
// validates the result. getenv is injected so tests don't need to
// mutate process-wide environment state.
func Load(getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	maxDaily, err := atoiDefault(getenv("MAX_DAILY_TOKENS"), 1_000_000)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_DAILY_TOKENS: %w", err)
	}
	maxTask, err := atoiDefault(getenv("MAX_TASK_TOKENS"), 50_000)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_TASK_TOKENS: %w", err)
	}
	maxConcurrent, err := atoiDefault(getenv("MAX_CONCURRENT_TASKS"), 5)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CONCURRENT_TASKS: %w", err)
	}
	maxRetries, err := atoiDefault(getenv("MAX_RETRIES"), 3)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_RETRIES: %w", err)
	}
	tokenWindowMs, err := atoiDefault(getenv("TOKEN_WINDOW_MS"), int((24 * time.Hour).Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_WINDOW_MS: %w", err)
	}
	halfOpenMs, err := atoiDefault(getenv("HALF_OPEN_INTERVAL_MS"), int((10 * time.Minute).Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("invalid HALF_OPEN_INTERVAL_MS: %w", err)
	}

	cfg := &Config{
		Port:                 get("PORT", "8080"),
		ModelAPIKey:          getenv("MODEL_API_KEY"),
		ModelBaseURL:         get("MODEL_BASE_URL", "https://api.openai.com/v1"),
		DBMode:               get("DB_MODE", DBModeMemory),
		DBDataDir:            getenv("DB_DATA_DIR"),
		ChromePath:           getenv("CHROME_PATH"),
		MaxDailyTokens:       maxDaily,
		MaxTaskTokens:        maxTask,
		MaxConcurrentTasks:   maxConcurrent,
		MaxRetries:           maxRetries,
		TokenWindow:          time.Duration(tokenWindowMs) * time.Millisecond,
		HalfOpenInterval:     time.Duration(halfOpenMs) * time.Millisecond,
		TripFailureThreshold: 5,
		RepoURL:              getenv("REPO_URL"),
		WorkDir:              get("WORK_DIR", "./workspace"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the resolved configuration is internally consistent.
func (c *Config) Validate() error {
	if c.DBMode != DBModeMemory && c.DBMode != DBModeFile {
		return fmt.Errorf("DB_MODE must be %q or %q, got %q", DBModeMemory, DBModeFile, c.DBMode)
	}
	if c.DBMode == DBModeFile && c.DBDataDir == "" {
		return fmt.Errorf("DB_DATA_DIR is required when DB_MODE=%s", DBModeFile)
	}
	if c.MaxDailyTokens < 1 {
		return fmt.Errorf("MAX_DAILY_TOKENS must be at least 1")
	}
	if c.MaxTaskTokens < 1 || c.MaxTaskTokens > c.MaxDailyTokens {
		return fmt.Errorf("MAX_TASK_TOKENS must be between 1 and MAX_DAILY_TOKENS")
	}
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("MAX_CONCURRENT_TASKS must be at least 1")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative")
	}
	if c.RepoURL == "" {
		return fmt.Errorf("REPO_URL is required")
	}
	return nil
}

func atoiDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
