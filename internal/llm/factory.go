package llm

import (
	"fmt"
	"os"

	"github.com/rainbowcity/rainbow/internal/config"
)

// NewProvider creates a gateway for a named provider. All supported
// providers speak the OpenAI chat-completions format.
func NewProvider(name string, cfg *ProviderConfig, opts ...OpenAIOption) (*OpenAIProvider, error) {
	switch name {
	case "openai", "groq", "grok", "openrouter", "ollama":
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}

	c := ProviderConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.APIKey == "" {
		c.APIKey = getAPIKeyFromEnv(name)
	}
	return newOpenAICompatible(name, &c, opts...), nil
}

// getAPIKeyFromEnv retrieves the API key from standard environment variables.
func getAPIKeyFromEnv(providerName string) string {
	envVars := map[string]string{
		"grok":       "XAI_API_KEY",
		"groq":       "GROQ_API_KEY",
		"openai":     "OPENAI_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
	}
	if envVar, ok := envVars[providerName]; ok {
		return os.Getenv(envVar)
	}
	return ""
}

// FromConfig builds the gateway stack for the configured default provider:
// the provider itself, a rate limiter when requests_per_second is set, and
// a metrics wrapper on the outside. observe may be nil.
func FromConfig(cfg *config.Config, observe Observer) (Gateway, error) {
	name, pc, err := cfg.Provider()
	if err != nil {
		return nil, err
	}

	provider, err := NewProvider(name, &ProviderConfig{
		Name:        name,
		Endpoint:    pc.Endpoint,
		APIKey:      pc.APIKey,
		Model:       pc.Model,
		MaxTokens:   pc.MaxTokens,
		Temperature: pc.Temperature,
		Timeout:     pc.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	var gw Gateway = provider
	if pc.RequestsPerSecond > 0 {
		gw = NewLimitedGateway(gw, pc.RequestsPerSecond, pc.Burst)
	}
	return NewMetricsGateway(gw, observe), nil
}
