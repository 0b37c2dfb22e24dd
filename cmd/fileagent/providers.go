package main

import (
	"errors"
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/fileagent/internal/config"
	"github.com/MrWong99/fileagent/pkg/provider/llm"
	"github.com/MrWong99/fileagent/pkg/provider/llm/anthropic"
	"github.com/MrWong99/fileagent/pkg/provider/llm/anyllm"
	"github.com/MrWong99/fileagent/pkg/provider/llm/openai"
)

// errMissingCredential marks a provider that cannot start without a key or
// endpoint.
var errMissingCredential = errors.New("missing credential")

// Environment variables consulted when the config leaves a credential empty.
const (
	envOpenAIKey     = "OPENAI_API_KEY"
	envAnthropicKey  = "ANTHROPIC_API_KEY"
	envAzureKey      = "AZURE_OPENAI_API_KEY"
	envAzureEndpoint = "AZURE_OPENAI_ENDPOINT"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// getenv supplies credential fallbacks; main passes [os.Getenv].
func registerBuiltinProviders(reg *config.Registry, getenv func(string) string) {
	// ── Hosted ────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		key, err := credential(entry.APIKey, getenv, envOpenAIKey, "provider.api_key")
		if err != nil {
			return nil, err
		}
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		p, err := openai.New(key, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterLLM("azure-openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		key, err := credential(entry.APIKey, getenv, envAzureKey, "provider.api_key")
		if err != nil {
			return nil, err
		}
		endpoint, err := credential(entry.BaseURL, getenv, envAzureEndpoint, "provider.base_url")
		if err != nil {
			return nil, err
		}
		p, err := openai.New(key, entry.Model, openai.WithAzure(endpoint, entry.OptionString("api_version")))
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterLLM("anthropic", func(entry config.ProviderEntry) (llm.Provider, error) {
		key, err := credential(entry.APIKey, getenv, envAnthropicKey, "provider.api_key")
		if err != nil {
			return nil, err
		}
		var opts []anthropic.Option
		if entry.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(entry.BaseURL))
		}
		p, err := anthropic.New(key, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── any-llm backends ──────────────────────────────────────────────────────
	// Local servers use BaseURL for the address and need no key. The hosted
	// OpenAI-compatible clouds read their own environment variable
	// (GEMINI_API_KEY, DEEPSEEK_API_KEY, MISTRAL_API_KEY, GROQ_API_KEY) when
	// api_key is empty.
	for _, providerName := range []string{"ollama", "llamacpp", "llamafile", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}
}

// credential returns configured, or the value of env when configured is
// empty.
func credential(configured string, getenv func(string) string, env, field string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if v := getenv(env); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: set %s or %s", errMissingCredential, field, env)
}
