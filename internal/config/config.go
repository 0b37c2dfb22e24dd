// Package config provides the configuration schema, loader, and provider
// registry for the file agent.
package config

import "fmt"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DefaultSystemPrompt is used when agent.system_prompt is empty.
const DefaultSystemPrompt = `You are a helpful agent that can read files and list directory contents.
You have access to two tools:
1. list_files - to list files in a directory
2. read_file - to read the contents of a file

Use these tools when the user asks questions about files or directories.`

// Defaults applied by [ApplyDefaults].
const (
	DefaultProvider    = "openai"
	DefaultMaxTokens   = 1024
	DefaultAPIVersion  = "2024-06-01"
	DefaultToolsRoot   = "."
	DefaultLogLevel    = LogInfo
	defaultLocalModel  = "llama3.2"
	defaultOpenAIModel = "gpt-4o"
)

// DefaultModels maps provider names to the model used when provider.model is
// empty.
var DefaultModels = map[string]string{
	"openai":       defaultOpenAIModel,
	"azure-openai": defaultOpenAIModel,
	"anthropic":    "claude-3-5-sonnet-20241022",
	"ollama":       defaultLocalModel,
	"llamacpp":     defaultLocalModel,
	"llamafile":    defaultLocalModel,
	"gemini":       "gemini-2.0-flash",
	"deepseek":     "deepseek-chat",
	"mistral":      "mistral-large-latest",
	"groq":         "llama-3.3-70b-versatile",
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity of the diagnostic log on stderr.
	LogLevel LogLevel `yaml:"log_level"`

	Provider ProviderEntry `yaml:"provider"`
	Agent    AgentConfig   `yaml:"agent"`
	Tools    ToolsConfig   `yaml:"tools"`
	Observe  ObserveConfig `yaml:"observe"`
}

// ProviderEntry selects and configures the model backend. Name is used to look
// up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "anthropic", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any. Empty
	// falls back to the provider's conventional environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. For
	// azure-openai it is the resource endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model or, for azure-openai, the deployment.
	Model string `yaml:"model"`

	// MaxTokens caps completion length.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls sampling. Zero means provider default.
	Temperature float64 `yaml:"temperature"`

	// Options holds provider-specific values not covered above, such as
	// api_version for azure-openai.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] rendered as text, or "" when absent.
func (e ProviderEntry) OptionString(key string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// AgentConfig configures the tool-use loop.
type AgentConfig struct {
	// SystemPrompt is sent with every model call.
	SystemPrompt string `yaml:"system_prompt"`

	// Streaming prints model text as it is generated.
	Streaming bool `yaml:"streaming"`
}

// ToolsConfig configures list_files and read_file.
type ToolsConfig struct {
	// Root is the directory relative tool paths resolve against.
	Root string `yaml:"root"`

	// RestrictedPrefixes are file name prefixes hidden from listings and
	// refused by reads. Nil means [".env"].
	RestrictedPrefixes []string `yaml:"restricted_prefixes"`

	// MaxReadBytes caps read_file. Zero leaves reads unbounded.
	MaxReadBytes int64 `yaml:"max_read_bytes"`
}

// ObserveConfig configures metrics exposure.
type ObserveConfig struct {
	// MetricsAddr, when set, serves Prometheus metrics on /metrics
	// (e.g. "127.0.0.1:9464").
	MetricsAddr string `yaml:"metrics_addr"`
}
