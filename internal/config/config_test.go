package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)
	assert.Contains(t, cfg.LLM.Providers, "openai")
	assert.Contains(t, cfg.LLM.Providers, "ollama")
	assert.Equal(t, "tavily", cfg.Search.Provider)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "@hourly", cfg.Store.PruneSchedule)
	assert.Equal(t, 10000, cfg.Server.LimiterCapacity)
	require.NoError(t, cfg.Validate())
}

func TestDurations(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 60*time.Second, cfg.LLM.Providers["openai"].Timeout())
	assert.Equal(t, 15*time.Second, cfg.Search.Timeout())
	assert.Equal(t, 5*time.Minute, cfg.Search.CacheTTL())
	assert.Equal(t, 90*time.Second, cfg.Agent.PassTimeout())
}

func TestLoadFromPath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".rainbow", "config.yaml")

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	_, err = os.Stat(configPath)
	require.NoError(t, err, "default config file should be created")
	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)

	cfg2, err := LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.LLM.DefaultProvider, cfg2.LLM.DefaultProvider)
	assert.Equal(t, cfg.Search, cfg2.Search)
}

func TestSaveToPath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.LLM.DefaultProvider = "groq"
	cfg.Agent.FatalMessage = "Please try again later."
	cfg.Server.Addr = ":9090"
	require.NoError(t, cfg.SaveToPath(configPath))

	loaded, err := LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, "groq", loaded.LLM.DefaultProvider)
	assert.Equal(t, "Please try again later.", loaded.Agent.FatalMessage)
	assert.Equal(t, ":9090", loaded.Server.Addr)
}

func TestEnvironmentOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Default().SaveToPath(configPath))

	t.Setenv("RAINBOW_LOGGING_LEVEL", "debug")
	t.Setenv("RAINBOW_SEARCH_API_KEY", "tvly-test-key")
	t.Setenv("RAINBOW_LLM_PROVIDERS_OPENAI_API_KEY", "sk-test")

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "tvly-test-key", cfg.Search.APIKey)
	assert.Equal(t, "sk-test", cfg.LLM.Providers["openai"].APIKey)
}

func TestLoadFillsMissingValues(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `llm:
  default_provider: ollama
  providers:
    ollama:
      endpoint: http://127.0.0.1:11434/v1
      model: qwen2.5
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, "qwen2.5", cfg.LLM.Providers["ollama"].Model)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, "basic", cfg.Search.SearchDepth)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid default", func(c *Config) {}, ""},
		{"empty default provider", func(c *Config) { c.LLM.DefaultProvider = "" }, "default_provider cannot be empty"},
		{"unknown default provider", func(c *Config) { c.LLM.DefaultProvider = "nope" }, "not found in providers map"},
		{"negative timeout", func(c *Config) {
			pc := c.LLM.Providers["openai"]
			pc.TimeoutSec = -1
			c.LLM.Providers["openai"] = pc
		}, "timeout_sec cannot be negative"},
		{"bad search provider", func(c *Config) { c.Search.Provider = "bing" }, "invalid search provider"},
		{"disabled search skips provider check", func(c *Config) {
			c.Search.Enabled = false
			c.Search.Provider = "bing"
		}, ""},
		{"max results out of range", func(c *Config) { c.Search.MaxResults = 0 }, "max_results"},
		{"bad search depth", func(c *Config) { c.Search.SearchDepth = "deep" }, "search_depth"},
		{"negative retention", func(c *Config) { c.Store.RetentionDays = -1 }, "retention_days"},
		{"negative limiter capacity", func(c *Config) { c.Server.LimiterCapacity = -1 }, "limiter_capacity"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	pc := cfg.LLM.Providers["openai"]
	pc.APIKey = "sk-1234567890abcdef"
	cfg.LLM.Providers["openai"] = pc
	cfg.Search.APIKey = "short"

	red := cfg.Redacted()

	assert.Equal(t, "sk-1****cdef", red.LLM.Providers["openai"].APIKey)
	assert.Equal(t, "****", red.Search.APIKey)
	assert.Equal(t, "sk-1234567890abcdef", cfg.LLM.Providers["openai"].APIKey, "original must be untouched")
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("RAINBOW_TEST_ENV_FILE=loaded\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("RAINBOW_TEST_ENV_FILE") })

	require.NoError(t, LoadEnvFile(envPath))
	assert.Equal(t, "loaded", os.Getenv("RAINBOW_TEST_ENV_FILE"))

	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "data", "rainbow.db"), expandPath("~/data/rainbow.db"))
	assert.Equal(t, "/tmp/rainbow.db", expandPath("/tmp/rainbow.db"))
}
