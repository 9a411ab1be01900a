// Package types defines the shared types used across all wordlens packages.
//
// These types form the lingua franca between the prompt builder, the result
// parser, the renderer, and the flashcard sinks. Each package defines its own
// domain types, but cross-cutting data structures live here to avoid circular
// imports.
package types

import "strings"

// Required JSON field names of a lookup response. Every other top-level key
// emitted by the model is treated as an optional field.
const (
	FieldWord              = "word"
	FieldBasicMeaning      = "basic_meaning"
	FieldContextualMeaning = "contextual_meaning"
)

// Well-known optional field names.
const (
	FieldPartOfSpeech = "pos"
	FieldPhonetic     = "ipa"
	FieldExamples     = "examples"
)

// LookupResult is the validated, structured answer to a single lookup.
//
// A LookupResult is only ever produced by successful validation of model
// output and must be treated as read-only once created.
type LookupResult struct {
	// Word is the looked-up word as echoed by the model. Never empty.
	Word string `json:"word"`

	// BasicMeaning holds the core dictionary senses, at most MaxBasicMeanings
	// entries, in the order the model produced them. Never empty.
	BasicMeaning []string `json:"basic_meaning"`

	// ContextualMeaning explains the word as used in the supplied context.
	// Never empty.
	ContextualMeaning string `json:"contextual_meaning"`

	// Optional carries every other top-level key of the decoded object
	// verbatim (e.g. "pos", "ipa", "examples"). May be empty but is never nil.
	Optional map[string]any `json:"optional"`
}

// OptionalField toggles one optional field in prompts and rendering.
type OptionalField struct {
	Name    string
	Enabled bool
}

// FieldSet is an ordered list of optional-field toggles. Order determines the
// order in which enabled fields are requested and rendered.
type FieldSet []OptionalField

// DefaultFields returns the built-in optional fields, all disabled.
func DefaultFields() FieldSet {
	return FieldSet{
		{Name: FieldPartOfSpeech},
		{Name: FieldPhonetic},
		{Name: FieldExamples},
	}
}

// Enabled returns the names of all enabled fields in order.
func (fs FieldSet) Enabled() []string {
	var names []string
	for _, f := range fs {
		if f.Enabled {
			names = append(names, f.Name)
		}
	}
	return names
}

// IsEnabled reports whether name is present and enabled.
func (fs FieldSet) IsEnabled(name string) bool {
	for _, f := range fs {
		if f.Name == name {
			return f.Enabled
		}
	}
	return false
}

// Clone returns an independent copy of fs.
func (fs FieldSet) Clone() FieldSet {
	if fs == nil {
		return nil
	}
	out := make(FieldSet, len(fs))
	copy(out, fs)
	return out
}

// Style selects the tone of the generated explanation.
type Style string

const (
	StyleFormal   Style = "formal"
	StyleFriendly Style = "friendly"
	StyleHumorous Style = "humorous"
)

// IsValid reports whether s is a recognised style.
func (s Style) IsValid() bool {
	switch s {
	case StyleFormal, StyleFriendly, StyleHumorous:
		return true
	}
	return false
}

// Normalize lower-cases and trims s, falling back to [StyleFriendly] for
// unknown values.
func (s Style) Normalize() Style {
	n := Style(strings.ToLower(strings.TrimSpace(string(s))))
	if !n.IsValid() {
		return StyleFriendly
	}
	return n
}

// Language selects the natural language of the generated meanings. JSON field
// names are always English identifiers regardless of Language.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSpanish Language = "es"
	LanguageChinese Language = "zh"
)

// IsValid reports whether l is a recognised language.
func (l Language) IsValid() bool {
	switch l {
	case LanguageEnglish, LanguageSpanish, LanguageChinese:
		return true
	}
	return false
}

// Normalize lower-cases and trims l, falling back to [LanguageChinese] for
// unknown values.
func (l Language) Normalize() Language {
	n := Language(strings.ToLower(strings.TrimSpace(string(l))))
	if !n.IsValid() {
		return LanguageChinese
	}
	return n
}
