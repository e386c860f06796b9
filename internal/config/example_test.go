package config_test

import (
	"fmt"

	"github.com/rainbowcity/rainbow/internal/config"
)

func ExampleDefault() {
	cfg := config.Default()
	name, provider, _ := cfg.Provider()

	fmt.Println(name, provider.Model)
	fmt.Println(cfg.Search.Provider, cfg.Search.MaxResults)
	// Output:
	// openai gpt-4o
	// tavily 5
}
