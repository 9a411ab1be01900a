// Package prompt renders the text sent to the completion backend: the lookup
// prompt for a clicked word and the repair prompt used when the model's
// output could not be parsed.
//
// All functions are pure. They perform no I/O, have no side effects, and are
// safe for concurrent use.
package prompt

import (
	"fmt"
	"strings"

	"github.com/MrWong99/wordlens/pkg/types"
)

// Template placeholders.
const (
	PlaceholderWord           = "{word}"
	PlaceholderContext        = "{context}"
	PlaceholderOptionalFields = "{optional_fields}"
	PlaceholderSchema         = "{json_schema}"
)

// DefaultMaxBasicMeanings is the cap applied when a caller passes a
// non-positive bound.
const DefaultMaxBasicMeanings = 3

const jsonOnlyInstruction = "Output strictly JSON only (no Markdown, no code fences, no explanatory prose)."

// Schema returns the JSON schema reminder naming the three required fields.
func Schema(maxBasic int) string {
	if maxBasic <= 0 {
		maxBasic = DefaultMaxBasicMeanings
	}
	return "{\n" +
		`  "word": string,` + "\n" +
		fmt.Sprintf(`  "basic_meaning": [string]  # at most %d entries`, maxBasic) + "\n" +
		`  "contextual_meaning": string` + "\n" +
		"}"
}

// BuildLookupPrompt renders template for word and context.
//
// {word} and {optional_fields} are always substituted; {context} and
// {json_schema} are substituted when present. For every placeholder the
// template does not reference (schema, word, context) a standard section is
// appended instead, so a bare persona template still yields a complete
// prompt. Blank sections are skipped and sections are separated by a blank
// line.
func BuildLookupPrompt(template, word, context string, fields types.FieldSet, maxBasic int) string {
	if maxBasic <= 0 {
		maxBasic = DefaultMaxBasicMeanings
	}
	optional := fields.Enabled()
	optionalClause := strings.Join(optional, ", ")
	schema := Schema(maxBasic)

	rendered := strings.TrimSpace(template)
	rendered = strings.ReplaceAll(rendered, PlaceholderWord, word)
	rendered = strings.ReplaceAll(rendered, PlaceholderOptionalFields, optionalClause)
	rendered = strings.ReplaceAll(rendered, PlaceholderContext, context)
	rendered = strings.ReplaceAll(rendered, PlaceholderSchema, schema)

	needsSchema := !strings.Contains(template, PlaceholderSchema)
	needsWord := !strings.Contains(template, PlaceholderWord)
	needsContext := !strings.Contains(template, PlaceholderContext)

	parts := []string{rendered, jsonOnlyInstruction}
	if needsSchema {
		parts = append(parts, "JSON schema:", schema)
	}
	if len(optional) > 0 {
		parts = append(parts, "Optional fields (if you can provide them): "+optionalClause+
			" (only output them when you are confident; otherwise omit the field).")
	}
	if needsWord {
		parts = append(parts, "Target word: "+word)
	}
	parts = append(parts, fmt.Sprintf("Requirements:\n"+
		"- basic_meaning: at most %d entries giving the common core senses of the word (concise).\n"+
		"- contextual_meaning: must use the context below (current and neighbouring sentences) and explicitly match this context.",
		maxBasic))
	if needsContext {
		parts = append(parts, "Context:\n"+context)
	}

	return joinSections(parts)
}

// BuildRepairPrompt asks the model to re-emit invalid as strict JSON carrying
// the three required fields, with at most maxBasic basic meanings.
func BuildRepairPrompt(invalid string, maxBasic int) string {
	if maxBasic <= 0 {
		maxBasic = DefaultMaxBasicMeanings
	}
	var sb strings.Builder
	sb.WriteString("Repair the content below into strict JSON and output only the JSON (no Markdown, no code fences, no extra text).\n")
	fmt.Fprintf(&sb, "Required fields: %s, %s (array, at most %d entries), %s.\n\n",
		types.FieldWord, types.FieldBasicMeaning, maxBasic, types.FieldContextualMeaning)
	sb.WriteString("Content to repair:\n")
	sb.WriteString(invalid)
	return strings.TrimSpace(sb.String())
}

func joinSections(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n\n"))
}
