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

// ValidLLMNames lists the known LLM provider names. Used by [Validate] to
// warn about unrecognised names; third-party factories may still register
// other names.
var ValidLLMNames = []string{
	"openai", "compat", "anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// An empty document yields the zero Config, which is valid.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks is set but providers.llm is not configured"))
		} else {
			slog.Warn("no LLM provider configured; lookups will fail until providers.llm is set")
		}
	}
	validateProviderName("providers.llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		prefix := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
	}

	// Lookup
	l := cfg.Lookup
	if l.Style != "" && !l.Style.IsValid() {
		errs = append(errs, fmt.Errorf("lookup.style %q is invalid; valid values: formal, friendly, humorous", l.Style))
	}
	if l.Language != "" && !l.Language.IsValid() {
		errs = append(errs, fmt.Errorf("lookup.language %q is invalid; valid values: en, es, zh", l.Language))
	}
	if l.MaxBasicMeanings < 0 {
		errs = append(errs, fmt.Errorf("lookup.max_basic_meanings %d must be positive", l.MaxBasicMeanings))
	}
	if l.RepairAttempts != nil && *l.RepairAttempts < 0 {
		errs = append(errs, fmt.Errorf("lookup.repair_attempts %d must not be negative", *l.RepairAttempts))
	}
	if l.Throttle != nil && *l.Throttle < 0 {
		errs = append(errs, fmt.Errorf("lookup.throttle %s must not be negative", *l.Throttle))
	}
	if l.ContextSentences < 0 {
		errs = append(errs, fmt.Errorf("lookup.context_sentences %d must not be negative", l.ContextSentences))
	}
	for i, f := range l.OptionalFields {
		if strings.TrimSpace(f.Name) == "" {
			errs = append(errs, fmt.Errorf("lookup.optional_fields[%d] has an empty name", i))
		}
	}

	// Flashcards
	fc := cfg.Flashcards
	if fc.Driver != "" && !fc.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("flashcards.driver %q is invalid; valid values: memory, sqlite, postgres, jsonl", fc.Driver))
	}
	if (fc.Driver == DriverSQLite || fc.Driver == DriverPostgres || fc.Driver == DriverJSONL) && strings.TrimSpace(fc.DSN) == "" {
		errs = append(errs, fmt.Errorf("flashcards.dsn is required when driver is %s", fc.Driver))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidLLMNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidLLMNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidLLMNames,
	)
}
