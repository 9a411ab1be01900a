// Package config provides the configuration schema, loader, and provider
// registry for the wordlens lookup service.
package config

import (
	"fmt"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/wordlens/pkg/types"
)

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

// Driver selects the flashcard storage backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverJSONL    Driver = "jsonl"
)

// IsValid reports whether d is a recognised driver.
func (d Driver) IsValid() bool {
	switch d {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverJSONL:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Lookup     LookupConfig     `yaml:"lookup"`
	Flashcards FlashcardsConfig `yaml:"flashcards"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares the LLM backends. LLM is the primary; LLMFallbacks
// are tried in order when the primary cannot start a stream.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the configuration block of a single LLM backend.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "compat", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific values such as timeout, connect_timeout
	// and temperature. Read them with [OptDuration], [OptFloat] and [OptString].
	Options map[string]any `yaml:"options"`
}

// LookupConfig holds the user's lookup preferences. Every field is
// hot-reloadable; changes apply to the next lookup.
type LookupConfig struct {
	Style    types.Style    `yaml:"style"`
	Language types.Language `yaml:"language"`

	// Template overrides the style/language template when non-blank.
	Template string `yaml:"template"`

	// OptionalFields toggles optional result fields. Mapping order is kept.
	OptionalFields OptionalFields `yaml:"optional_fields"`

	// MaxBasicMeanings caps basic_meaning. Zero means the default of 3.
	MaxBasicMeanings int `yaml:"max_basic_meanings"`

	// RepairAttempts bounds the repair loop. Nil means the default of 1;
	// an explicit 0 disables repair.
	RepairAttempts *int `yaml:"repair_attempts"`

	// Throttle is the minimum spacing of partial updates. Nil means 50ms.
	Throttle *time.Duration `yaml:"throttle"`

	// ContextSentences is the number of neighbouring sentences included on
	// each side when context is derived from a passage.
	ContextSentences int `yaml:"context_sentences"`
}

// FlashcardsConfig selects where saved cards go.
type FlashcardsConfig struct {
	// Driver is "memory" (default), "sqlite", "postgres" or "jsonl".
	Driver Driver `yaml:"driver"`

	// DSN is the SQLite or JSON-lines file path, or the PostgreSQL
	// connection string.
	DSN string `yaml:"dsn"`

	// Deck is assigned to cards that carry none.
	Deck string `yaml:"deck"`

	// Tags are assigned to cards that carry none.
	Tags []string `yaml:"tags"`
}

// OptionalFields is an ordered field toggle list decoded from a YAML mapping
// such as {pos: true, ipa: false}.
type OptionalFields types.FieldSet

// UnmarshalYAML decodes a mapping of field name to bool, keeping key order.
func (o *OptionalFields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: optional_fields must be a mapping of field name to bool", node.Line)
	}
	fields := make(OptionalFields, 0, len(node.Content)/2)
	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var (
			name    string
			enabled bool
		)
		if err := node.Content[i].Decode(&name); err != nil {
			return err
		}
		if err := node.Content[i+1].Decode(&enabled); err != nil {
			return fmt.Errorf("optional_fields.%s: %w", name, err)
		}
		if seen[name] {
			return fmt.Errorf("line %d: optional_fields.%s is duplicated", node.Content[i].Line, name)
		}
		seen[name] = true
		fields = append(fields, types.OptionalField{Name: name, Enabled: enabled})
	}
	*o = fields
	return nil
}

// FieldSet returns the toggles as a [types.FieldSet], or the defaults when
// none are configured.
func (o OptionalFields) FieldSet() types.FieldSet {
	if len(o) == 0 {
		return types.DefaultFields()
	}
	return slices.Clone(types.FieldSet(o))
}
