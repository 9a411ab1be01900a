package main

import (
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/wordlens/internal/config"
	"github.com/MrWong99/wordlens/pkg/provider/llm"
	"github.com/MrWong99/wordlens/pkg/provider/llm/anyllm"
	"github.com/MrWong99/wordlens/pkg/provider/llm/compat"
	"github.com/MrWong99/wordlens/pkg/provider/llm/openai"
)

// anyllmProviders share the same pattern: optional APIKey + optional BaseURL.
var anyllmProviders = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in LLM factories into reg. Each
// factory receives a config.ProviderEntry and constructs the provider from
// the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// compat talks to any OpenAI-compatible endpoint over plain HTTP. The API
	// key may be empty for local servers.
	reg.RegisterLLM("compat", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []compat.Option
		timeout, ok, err := config.OptDuration(entry.Options, "timeout")
		if err != nil {
			return nil, err
		}
		if ok {
			opts = append(opts, compat.WithTimeout(timeout))
		}
		connect, ok, err := config.OptDuration(entry.Options, "connect_timeout")
		if err != nil {
			return nil, err
		}
		if ok {
			opts = append(opts, compat.WithConnectTimeout(connect))
		}
		return compat.New(entry.BaseURL, entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		timeout, ok, err := config.OptDuration(entry.Options, "timeout")
		if err != nil {
			return nil, err
		}
		if ok {
			opts = append(opts, openai.WithTimeout(timeout))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyllmProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})
}
