package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the provider names [Validate] accepts.
var ValidProviderNames = []string{
	"openai", "azure-openai", "anthropic",
	"ollama", "llamacpp", "llamafile",
	"gemini", "deepseek", "mistral", "groq",
}

// Load reads the YAML configuration file at path, expands ${VAR} references
// from the environment, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, nil
}

// Read decodes the file at path without applying defaults or validating.
// Callers that layer overrides on top call [ApplyDefaults] and [Validate]
// once they are done.
func Read(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references, applies defaults, and validates the result. An empty document
// yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields in place. Provider names are normalised to
// lower case first so the model default matches the provider.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	cfg.Provider.Name = strings.ToLower(strings.TrimSpace(cfg.Provider.Name))
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = DefaultProvider
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultModels[cfg.Provider.Name]
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = DefaultMaxTokens
	}
	if cfg.Provider.Name == "azure-openai" && cfg.Provider.OptionString("api_version") == "" {
		if cfg.Provider.Options == nil {
			cfg.Provider.Options = map[string]any{}
		}
		cfg.Provider.Options["api_version"] = DefaultAPIVersion
	}

	if strings.TrimSpace(cfg.Agent.SystemPrompt) == "" {
		cfg.Agent.SystemPrompt = DefaultSystemPrompt
	}

	if cfg.Tools.Root == "" {
		cfg.Tools.Root = DefaultToolsRoot
	}
	if cfg.Tools.RestrictedPrefixes == nil {
		cfg.Tools.RestrictedPrefixes = []string{".env"}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Provider
	switch {
	case cfg.Provider.Name == "":
		errs = append(errs, errors.New("provider.name is required"))
	case !slices.Contains(ValidProviderNames, cfg.Provider.Name):
		hint := ""
		if s := Suggest(cfg.Provider.Name, ValidProviderNames); s != "" {
			hint = fmt.Sprintf(" (did you mean %q?)", s)
		}
		errs = append(errs, fmt.Errorf("provider.name %q is unknown%s; valid values: %s",
			cfg.Provider.Name, hint, strings.Join(ValidProviderNames, ", ")))
	}
	if cfg.Provider.Model == "" {
		errs = append(errs, errors.New("provider.model is required"))
	}
	if cfg.Provider.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("provider.max_tokens %d must not be negative", cfg.Provider.MaxTokens))
	}
	if cfg.Provider.Temperature < 0 || cfg.Provider.Temperature > 2 {
		errs = append(errs, fmt.Errorf("provider.temperature %.2f is out of range [0, 2]", cfg.Provider.Temperature))
	}

	// Tools
	if cfg.Tools.MaxReadBytes < 0 {
		errs = append(errs, fmt.Errorf("tools.max_read_bytes %d must not be negative", cfg.Tools.MaxReadBytes))
	}
	if cfg.Tools.MaxReadBytes == 0 {
		slog.Warn("tools.max_read_bytes is 0; read_file will load files of any size into memory")
	}
	if len(cfg.Tools.RestrictedPrefixes) == 0 {
		slog.Warn("tools.restricted_prefixes is empty; every file is visible to the model")
	}
	for i, p := range cfg.Tools.RestrictedPrefixes {
		if p == "" {
			errs = append(errs, fmt.Errorf("tools.restricted_prefixes[%d] must not be empty", i))
		}
	}

	return errors.Join(errs...)
}
