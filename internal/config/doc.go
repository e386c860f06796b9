// Package config loads Rainbow configuration.
//
// Configuration lives in ~/.rainbow/config.yaml and is created with defaults
// on first use. Values are read with Viper, so every key can be overridden
// from the environment with the RAINBOW_ prefix, nested keys joined by
// underscores:
//
//   - RAINBOW_LLM_DEFAULT_PROVIDER=groq
//   - RAINBOW_LLM_PROVIDERS_OPENAI_API_KEY=sk-...
//   - RAINBOW_SEARCH_API_KEY=tvly-...
//   - RAINBOW_LOGGING_LEVEL=debug
//
// LoadEnvFile reads a .env file into the environment before Load runs, which
// is how local API keys are usually supplied.
package config
