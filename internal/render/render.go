// Package render turns lookup output into the HTML fragments shown in the
// side panel and stored on flashcards.
//
// Both functions are pure and never fail. All model-provided text is escaped.
package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/wordlens/pkg/types"
)

// codec sorts map keys so nested values render deterministically.
var codec = sonic.ConfigStd

const (
	headingStyle   = "margin:0 0 8px 0;"
	listStyle      = "margin:0 0 12px 18px; padding:0;"
	itemStyle      = "margin:4px 0;"
	paragraphStyle = "margin:0 0 12px 0;"
)

// Labels maps well-known optional field names to their display headings.
// Unknown fields are shown under their raw name.
var Labels = map[string]string{
	types.FieldPartOfSpeech: "Part of speech",
	types.FieldPhonetic:     "Pronunciation",
	types.FieldExamples:     "Examples",
}

// Streaming wraps the partially received model text in a "generating"
// indicator.
func Streaming(buf string) string {
	return "<div>" +
		"<p style='margin:0 0 8px 0; color:#86868B;'>Generating…</p>" +
		"<pre style='white-space:pre-wrap; margin:0;'>" + html.EscapeString(buf) + "</pre>" +
		"</div>"
}

// Result renders the required fields followed by every optional field that
// is enabled in fields and present in res.Optional with something to show.
// Null, blank and empty-list values are omitted along with their heading.
// Optional fields are emitted in fields order.
func Result(res types.LookupResult, fields types.FieldSet) string {
	var sb strings.Builder
	sb.WriteString("<div>")

	heading(&sb, "Basic meaning")
	list(&sb, res.BasicMeaning)

	heading(&sb, "Contextual meaning")
	paragraph(&sb, res.ContextualMeaning)

	for _, f := range fields {
		if !f.Enabled {
			continue
		}
		v, ok := res.Optional[f.Name]
		if !ok || v == nil {
			continue
		}
		label, ok := Labels[f.Name]
		if !ok {
			label = f.Name
		}

		items, isList := v.([]any)
		if !isList {
			if p := strings.TrimSpace(text(v)); p != "" {
				heading(&sb, label)
				paragraph(&sb, p)
			}
			continue
		}
		line := text
		if f.Name == types.FieldExamples {
			line = exampleLine
		}
		lines := make([]string, 0, len(items))
		for _, it := range items {
			if l := strings.TrimSpace(line(it)); l != "" {
				lines = append(lines, l)
			}
		}
		if len(lines) > 0 {
			heading(&sb, label)
			list(&sb, lines)
		}
	}

	sb.WriteString("</div>")
	return sb.String()
}

// exampleLine renders an {"en", "zh"} object as the sentence followed by its
// translation, or the sentence alone when the translation is missing.
// Non-object items are rendered as text.
func exampleLine(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return strings.TrimSpace(text(v))
	}
	en := strings.TrimSpace(text(m["en"]))
	zh := strings.TrimSpace(text(m["zh"]))
	if zh == "" {
		return en
	}
	return en + " — " + zh
}

func heading(sb *strings.Builder, title string) {
	fmt.Fprintf(sb, "<h3 style='%s'>%s</h3>", headingStyle, html.EscapeString(title))
}

// list writes a bullet list, skipping blank entries.
func list(sb *strings.Builder, items []string) {
	fmt.Fprintf(sb, "<ul style='%s'>", listStyle)
	for _, it := range items {
		if it == "" {
			continue
		}
		fmt.Fprintf(sb, "<li style='%s'>%s</li>", itemStyle, html.EscapeString(it))
	}
	sb.WriteString("</ul>")
}

func paragraph(sb *strings.Builder, s string) {
	fmt.Fprintf(sb, "<p style='%s'>%s</p>", paragraphStyle, html.EscapeString(s))
}

// text formats a decoded JSON value for display. Whole numbers print without
// a fractional part; objects and arrays print as compact JSON.
func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case map[string]any:
		return compact(x, len(x))
	case []any:
		return compact(x, len(x))
	default:
		return fmt.Sprint(x)
	}
}

// compact marshals a non-empty object or array; n is its length.
func compact(v any, n int) string {
	if n == 0 {
		return ""
	}
	s, err := codec.MarshalToString(v)
	if err != nil {
		return ""
	}
	return s
}
