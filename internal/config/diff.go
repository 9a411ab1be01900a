package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LookupChanged is true if any lookup preference changed, including
	// the optional field toggles or their order.
	LookupChanged bool

	// FieldsChanged is true if only the optional field toggles differ.
	FieldsChanged bool

	// RestartRequired lists the sections whose changes only take effect
	// after a restart (listen address, providers, flashcard storage).
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.FieldsChanged = !slices.Equal(old.Lookup.OptionalFields, new.Lookup.OptionalFields)
	d.LookupChanged = d.FieldsChanged || !lookupScalarsEqual(old.Lookup, new.Lookup)

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Flashcards.Driver != new.Flashcards.Driver ||
		old.Flashcards.DSN != new.Flashcards.DSN ||
		old.Flashcards.Deck != new.Flashcards.Deck ||
		!slices.Equal(old.Flashcards.Tags, new.Flashcards.Tags) {
		d.RestartRequired = append(d.RestartRequired, "flashcards")
	}

	return d
}

func lookupScalarsEqual(a, b LookupConfig) bool {
	return a.Style == b.Style &&
		a.Language == b.Language &&
		a.Template == b.Template &&
		a.MaxBasicMeanings == b.MaxBasicMeanings &&
		a.ContextSentences == b.ContextSentences &&
		ptrEqual(a.RepairAttempts, b.RepairAttempts) &&
		ptrEqual(a.Throttle, b.Throttle)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func tlsEqual(a, b *TLSConfig) bool {
	return ptrEqual(a, b)
}

func providersEqual(a, b ProvidersConfig) bool {
	return slices.EqualFunc(
		append([]ProviderEntry{a.LLM}, a.LLMFallbacks...),
		append([]ProviderEntry{b.LLM}, b.LLMFallbacks...),
		entryEqual,
	)
}

// entryEqual compares two entries. Options hold arbitrary decoded YAML, so
// they are compared deeply.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) == 0 && len(b.Options) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
