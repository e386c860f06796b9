package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides (RAINBOW_LOGGING_LEVEL=debug).
const EnvPrefix = "RAINBOW"

// Config represents the complete Rainbow configuration.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Search  SearchConfig  `mapstructure:"search" yaml:"search"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig configures the model gateway.
type LLMConfig struct {
	// DefaultProvider names the entry in Providers used for every pass.
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`

	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
}

// ProviderConfig holds settings for one OpenAI-compatible endpoint.
type ProviderConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model       string  `mapstructure:"model" yaml:"model,omitempty"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
	TimeoutSec  int     `mapstructure:"timeout_sec" yaml:"timeout_sec,omitempty"`

	// RequestsPerSecond caps outbound calls to this provider; 0 disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second,omitempty"`
	Burst             int     `mapstructure:"burst" yaml:"burst,omitempty"`
}

// Timeout returns the per-call timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// SearchConfig configures uncertainty-triggered web search.
type SearchConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Provider    string `mapstructure:"provider" yaml:"provider"`
	APIKey      string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	MaxResults  int    `mapstructure:"max_results" yaml:"max_results"`
	SearchDepth string `mapstructure:"search_depth" yaml:"search_depth"`
	TimeoutSec  int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	CacheTTLSec int    `mapstructure:"cache_ttl_sec" yaml:"cache_ttl_sec"`

	// RedisAddr switches the result cache from in-process memory to Redis.
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr,omitempty"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db,omitempty"`
}

// Timeout returns the bound for a single search call.
func (s SearchConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// CacheTTL returns how long search digests are reused.
func (s SearchConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSec) * time.Second
}

// AgentConfig configures the orchestrator.
type AgentConfig struct {
	// SystemPrompt overrides the built-in Rainbow City prompt when set.
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`

	PassTimeoutSec int `mapstructure:"pass_timeout_sec" yaml:"pass_timeout_sec"`

	// FatalMessage is shown to the user when a turn cannot complete.
	FatalMessage string `mapstructure:"fatal_message" yaml:"fatal_message,omitempty"`
}

// PassTimeout returns the bound for a single model pass.
func (a AgentConfig) PassTimeout() time.Duration {
	return time.Duration(a.PassTimeoutSec) * time.Second
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string  `mapstructure:"addr" yaml:"addr"`
	ReadTimeoutSec  int     `mapstructure:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec int     `mapstructure:"write_timeout_sec" yaml:"write_timeout_sec"`
	SessionRPS      float64 `mapstructure:"session_rps" yaml:"session_rps"`
	SessionBurst    int     `mapstructure:"session_burst" yaml:"session_burst"`
	// LimiterCapacity bounds the number of client limiters kept at once.
	LimiterCapacity int `mapstructure:"limiter_capacity" yaml:"limiter_capacity"`
}

// StoreConfig configures conversation persistence.
type StoreConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
	PruneSchedule string `mapstructure:"prune_schedule" yaml:"prune_schedule"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file,omitempty"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	dataDir := defaultDataDir()

	return &Config{
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers: map[string]ProviderConfig{
				"openai": {
					Endpoint:   "https://api.openai.com/v1",
					Model:      "gpt-4o",
					MaxTokens:  4096,
					TimeoutSec: 60,
				},
				"groq": {
					Endpoint:   "https://api.groq.com/openai/v1",
					Model:      "llama-3.3-70b-versatile",
					TimeoutSec: 60,
				},
				"ollama": {
					Endpoint:   "http://127.0.0.1:11434/v1",
					Model:      "llama3.2",
					TimeoutSec: 120,
				},
			},
		},
		Search: SearchConfig{
			Enabled:     true,
			Provider:    "tavily",
			MaxResults:  5,
			SearchDepth: "basic",
			TimeoutSec:  15,
			CacheTTLSec: 300,
		},
		Agent: AgentConfig{
			PassTimeoutSec: 90,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 300,
			SessionRPS:      1,
			SessionBurst:    3,
			LimiterCapacity: 10000,
		},
		Store: StoreConfig{
			Path:          filepath.Join(dataDir, "rainbow.db"),
			RetentionDays: 30,
			PruneSchedule: "@hourly",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "logs", "rainbow.log"),
		},
	}
}

// Load reads configuration from the default location (~/.rainbow/config.yaml)
// and merges environment overrides. A missing file is created with defaults.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join(defaultDataDir(), "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// RAINBOW_LLM_PROVIDERS_OPENAI_API_KEY, RAINBOW_SEARCH_API_KEY, ...
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := bindSecretEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.Path = expandPath(cfg.Store.Path)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.applyDefaults()

	return &cfg, nil
}

// bindSecretEnv registers keys that are usually absent from the file
// (omitempty secrets) so AutomaticEnv can still override them.
func bindSecretEnv(v *viper.Viper) error {
	keys := []string{"search.api_key", "search.redis_addr", "search.redis_password", "agent.system_prompt"}
	for name := range v.GetStringMap("llm.providers") {
		keys = append(keys, "llm.providers."+name+".api_key")
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// applyDefaults fills zero values left by hand-edited files.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.LLM.Providers == nil {
		c.LLM.Providers = defaults.LLM.Providers
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = defaults.Search.MaxResults
	}
	if c.Search.SearchDepth == "" {
		c.Search.SearchDepth = defaults.Search.SearchDepth
	}
	if c.Search.Provider == "" {
		c.Search.Provider = defaults.Search.Provider
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Store.PruneSchedule == "" {
		c.Store.PruneSchedule = defaults.Store.PruneSchedule
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
}

// Provider returns the configuration of the default provider.
func (c *Config) Provider() (string, ProviderConfig, error) {
	name := c.LLM.DefaultProvider
	pc, ok := c.LLM.Providers[name]
	if !ok {
		return "", ProviderConfig{}, fmt.Errorf("default provider '%s' not found in providers map", name)
	}
	return name, pc, nil
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// GetDataDir returns the Rainbow data directory path (~/.rainbow).
func (c *Config) GetDataDir() string {
	return defaultDataDir()
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.LLM.Providers = make(map[string]ProviderConfig, len(c.LLM.Providers))
	for name, pc := range c.LLM.Providers {
		pc.APIKey = mask(pc.APIKey)
		out.LLM.Providers[name] = pc
	}
	out.Search.APIKey = mask(c.Search.APIKey)
	out.Search.RedisPassword = mask(c.Search.RedisPassword)
	return &out
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider cannot be empty")
	}
	if _, _, err := c.Provider(); err != nil {
		return err
	}
	for name, pc := range c.LLM.Providers {
		if pc.TimeoutSec < 0 {
			return fmt.Errorf("llm.providers.%s.timeout_sec cannot be negative", name)
		}
		if pc.RequestsPerSecond < 0 {
			return fmt.Errorf("llm.providers.%s.requests_per_second cannot be negative", name)
		}
	}

	if c.Search.Enabled && c.Search.Provider != "tavily" {
		return fmt.Errorf("invalid search provider '%s', must be 'tavily'", c.Search.Provider)
	}
	if c.Search.MaxResults < 1 || c.Search.MaxResults > 20 {
		return fmt.Errorf("search.max_results must be between 1 and 20")
	}
	if c.Search.SearchDepth != "basic" && c.Search.SearchDepth != "advanced" {
		return fmt.Errorf("invalid search_depth '%s', must be 'basic' or 'advanced'", c.Search.SearchDepth)
	}

	if c.Agent.PassTimeoutSec < 0 {
		return fmt.Errorf("agent.pass_timeout_sec cannot be negative")
	}
	if c.Store.RetentionDays < 0 {
		return fmt.Errorf("store.retention_days cannot be negative")
	}
	if c.Server.SessionRPS < 0 {
		return fmt.Errorf("server.session_rps cannot be negative")
	}
	if c.Server.LimiterCapacity < 0 {
		return fmt.Errorf("server.limiter_capacity cannot be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".rainbow"
	}
	return filepath.Join(homeDir, ".rainbow")
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

func mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	default:
		return secret[:4] + "****" + secret[len(secret)-4:]
	}
}
