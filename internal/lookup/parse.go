package lookup

import (
	"strings"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/wordlens/pkg/types"
)

// ParseError reports model output that does not contain a valid,
// schema-conformant JSON object.
type ParseError struct {
	// Reason is a human-readable cause, e.g. "missing required field: word".
	Reason string
}

func (e *ParseError) Error() string { return e.Reason }

// codec decodes model output. Numbers decode as float64 and map key order is
// irrelevant because required fields are read by name.
var codec = sonic.ConfigStd

// ExtractFirstJSONObject returns the first complete, brace-balanced JSON
// object in text.
//
// A single pair of surrounding triple-backtick fences is stripped first.
// Braces inside string literals do not affect depth. When no balanced object
// exists (for example while a stream is still arriving) it returns ("", false).
func ExtractFirstJSONObject(text string) (string, bool) {
	s := stripFences(text)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	inString, escaped := false, false
	depth := 0
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// stripFences removes one leading and one trailing ``` line when the trimmed
// text is fence-delimited and spans at least three lines.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 3 || !strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return s
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}

// ParseResult validates text as a lookup response and builds a
// [types.LookupResult]. basic_meaning is truncated to maxBasic entries when
// maxBasic is positive. Failures are returned as *[ParseError].
func ParseResult(text string, maxBasic int) (types.LookupResult, error) {
	candidate, ok := ExtractFirstJSONObject(text)
	if !ok {
		return types.LookupResult{}, &ParseError{Reason: "no JSON object found"}
	}

	var decoded any
	if err := codec.UnmarshalFromString(candidate, &decoded); err != nil {
		return types.LookupResult{}, &ParseError{Reason: "malformed JSON: " + err.Error()}
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return types.LookupResult{}, &ParseError{Reason: "JSON root must be an object"}
	}

	word := strings.TrimSpace(stringify(obj[types.FieldWord]))
	contextual := strings.TrimSpace(stringify(obj[types.FieldContextualMeaning]))
	basic := coerceStrings(obj[types.FieldBasicMeaning])

	switch {
	case word == "":
		return types.LookupResult{}, missing(types.FieldWord)
	case contextual == "":
		return types.LookupResult{}, missing(types.FieldContextualMeaning)
	case len(basic) == 0:
		return types.LookupResult{}, missing(types.FieldBasicMeaning)
	}
	if maxBasic > 0 && len(basic) > maxBasic {
		basic = basic[:maxBasic]
	}

	optional := make(map[string]any, len(obj))
	for k, v := range obj {
		switch k {
		case types.FieldWord, types.FieldBasicMeaning, types.FieldContextualMeaning:
			continue
		}
		optional[k] = v
	}

	return types.LookupResult{
		Word:              word,
		BasicMeaning:      basic,
		ContextualMeaning: contextual,
		Optional:          optional,
	}, nil
}

func missing(field string) *ParseError {
	return &ParseError{Reason: "missing required field: " + field}
}

// coerceStrings turns a basic_meaning value into a list of non-empty strings.
// A string becomes a single entry, a list has each element stringified and
// trimmed with empties dropped, and any other value is stringified whole.
func coerceStrings(v any) []string {
	var items []string
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		for _, e := range x {
			items = append(items, strings.TrimSpace(stringify(e)))
		}
	default:
		items = []string{strings.TrimSpace(stringify(x))}
	}

	out := items[:0]
	for _, s := range items {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// stringify renders a decoded JSON value as display text. Strings are
// returned as-is and null becomes "".
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		s, err := codec.MarshalToString(x)
		if err != nil {
			return ""
		}
		return s
	}
}
