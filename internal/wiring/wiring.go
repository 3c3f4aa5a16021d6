// Package wiring assembles the Provider Registry (§4.2) and LLM Manager
// (§4.3) from process configuration, shared between cmd/server and
// cmd/worker so both processes register providers identically.
package wiring

import (
	"fmt"

	"github.com/reviewforge/engine/internal/config"
	"github.com/reviewforge/engine/internal/llmmanager"
	"github.com/reviewforge/engine/internal/provider"
)

// ProviderNames lists the LLM providers this build knows how to
// construct. It is fixed rather than discovered at runtime since
// config.Load needs it up front to collect the matching <PROVIDER>_API_KEY
// environment variables.
var ProviderNames = []string{"openai", "anthropic"}

// NewLLMManager registers the known providers in a fresh Registry and
// returns a Manager whose Lookup adapts Registry.Create (which returns
// the narrower provider.Provider) to llmmanager.Client via a type
// assertion — every registered factory here returns a concrete type that
// satisfies both interfaces.
func NewLLMManager(cfg *config.Config) *llmmanager.Manager {
	registry := provider.NewRegistry()

	registry.Register("openai", func(c map[string]any) (provider.Provider, error) {
		return llmmanager.NewOpenAITemplate(
			"openai",
			stringOr(c, "model", cfg.LLMModel),
			stringOr(c, "api_key", cfg.ProviderAPIKeys["OPENAI"]),
			stringOr(c, "base_url", cfg.LLMBaseURL),
		)
	}, nil)

	registry.Register("anthropic", func(c map[string]any) (provider.Provider, error) {
		return llmmanager.NewAnthropicProvider(
			stringOr(c, "model", cfg.LLMModel),
			stringOr(c, "api_key", cfg.ProviderAPIKeys["ANTHROPIC"]),
			stringOr(c, "base_url", cfg.LLMBaseURL),
		)
	}, nil)

	lookup := func(name string) (llmmanager.Client, error) {
		p, err := registry.Create(name, nil)
		if err != nil {
			return nil, err
		}
		client, ok := p.(llmmanager.Client)
		if !ok {
			return nil, fmt.Errorf("provider %q does not implement llmmanager.Client", name)
		}
		return client, nil
	}

	fallback := make([]string, 0, len(ProviderNames))
	for _, name := range ProviderNames {
		if name != cfg.LLMProvider {
			fallback = append(fallback, name)
		}
	}
	return llmmanager.NewManager(lookup, cfg.LLMProvider, fallback)
}

func stringOr(c map[string]any, key, fallback string) string {
	if v, ok := c[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
