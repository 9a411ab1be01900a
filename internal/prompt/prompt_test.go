package prompt

import (
	"strings"
	"testing"

	"github.com/MrWong99/wordlens/pkg/types"
)

func TestBuildLookupPrompt_BareTemplateAppendsAllSections(t *testing.T) {
	t.Parallel()
	got := BuildLookupPrompt("You are a language teacher.", "cat", "The cat sat.", types.DefaultFields(), 3)

	sections := strings.Split(got, "\n\n")
	want := []string{
		"You are a language teacher.",
		jsonOnlyInstruction,
		"JSON schema:",
		Schema(3),
		"Target word: cat",
	}
	if len(sections) < len(want)+2 {
		t.Fatalf("expected at least %d sections, got %d:\n%s", len(want)+2, len(sections), got)
	}
	for i, w := range want {
		if sections[i] != w {
			t.Errorf("section %d: got %q, want %q", i, sections[i], w)
		}
	}
	if !strings.HasPrefix(sections[len(want)], "Requirements:\n- basic_meaning: at most 3 entries") {
		t.Errorf("requirements block missing or misplaced: %q", sections[len(want)])
	}
	if last := sections[len(sections)-1]; last != "Context:\nThe cat sat." {
		t.Errorf("context section: got %q", last)
	}
	if strings.Contains(got, "Optional fields") {
		t.Error("no optional hint expected when all fields are disabled")
	}
}

func TestBuildLookupPrompt_PlaceholdersSuppressSections(t *testing.T) {
	t.Parallel()
	tmpl := "Explain {word} given {context}. Extras: {optional_fields}.\n{json_schema}"
	fields := types.FieldSet{{Name: "pos", Enabled: true}, {Name: "ipa"}, {Name: "examples", Enabled: true}}
	got := BuildLookupPrompt(tmpl, "run", "She runs a shop.", fields, 2)

	if !strings.HasPrefix(got, "Explain run given She runs a shop.. Extras: pos, examples.\n"+Schema(2)) {
		t.Errorf("template not rendered as expected:\n%s", got)
	}
	for _, absent := range []string{"JSON schema:", "Target word:", "Context:\n"} {
		if strings.Contains(got, absent) {
			t.Errorf("section %q must be omitted when the template references it", absent)
		}
	}
	if !strings.Contains(got, "Optional fields (if you can provide them): pos, examples (") {
		t.Errorf("optional hint missing or out of order:\n%s", got)
	}
	if !strings.Contains(got, "at most 2 entries giving") {
		t.Error("requirements must restate the basic_meaning cap")
	}
}

func TestBuildLookupPrompt_EmptyContextKeepsLabel(t *testing.T) {
	t.Parallel()
	got := BuildLookupPrompt("{word}", "cat", "", nil, 3)
	if !strings.HasSuffix(got, "Context:") {
		t.Errorf("labeled context section should still be present, got:\n%s", got)
	}
	if strings.Contains(got, "Target word:") {
		t.Error("word is embedded, no target word section expected")
	}
}

func TestBuildLookupPrompt_Deterministic(t *testing.T) {
	t.Parallel()
	fields := types.FieldSet{{Name: "ipa", Enabled: true}}
	a := BuildLookupPrompt("T", "w", "c", fields, 3)
	b := BuildLookupPrompt("T", "w", "c", fields, 3)
	if a != b {
		t.Error("BuildLookupPrompt must be deterministic")
	}
}

func TestBuildLookupPrompt_NonPositiveCap(t *testing.T) {
	t.Parallel()
	got := BuildLookupPrompt("", "w", "c", nil, 0)
	if !strings.Contains(got, "at most 3 entries") {
		t.Errorf("expected default cap, got:\n%s", got)
	}
	if strings.HasPrefix(got, "\n") {
		t.Error("blank template must not leave a leading separator")
	}
}

func TestBuildRepairPrompt(t *testing.T) {
	t.Parallel()
	got := BuildRepairPrompt("The word cat means a feline.", 0)
	if !strings.Contains(got, "at most 3 entries") {
		t.Errorf("non-positive cap must fall back to 3: %q", got)
	}
	if !strings.HasSuffix(got, "Content to repair:\nThe word cat means a feline.") {
		t.Errorf("invalid output not wrapped: %q", got)
	}
	for _, f := range []string{"word", "basic_meaning", "contextual_meaning", "strict JSON"} {
		if !strings.Contains(got, f) {
			t.Errorf("repair prompt missing %q", f)
		}
	}
}

func TestBuildRepairPrompt_ConfiguredCap(t *testing.T) {
	t.Parallel()
	got := BuildRepairPrompt("not json", 5)
	if !strings.Contains(got, "basic_meaning (array, at most 5 entries)") {
		t.Errorf("repair prompt ignores configured cap: %q", got)
	}
}

func TestTemplateFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		style    types.Style
		lang     types.Language
		wantLang string
		wantTone string
	}{
		{"formal", "en", "Write the meanings in English", "Style: formal"},
		{" Humorous ", "ES", "Escribe los significados", "Style: light and humorous"},
		{"friendly", "zh", "释义内容请使用中文", "Style: friendly teacher"},
		{"", "", "释义内容请使用中文", "Style: friendly teacher"},
		{"sarcastic", "fr", "释义内容请使用中文", "Style: friendly teacher"},
	}
	for _, tt := range tests {
		t.Run(string(tt.style)+"/"+string(tt.lang), func(t *testing.T) {
			got := TemplateFor(tt.style, tt.lang)
			lines := strings.Split(got, "\n")
			if len(lines) != 4 {
				t.Fatalf("expected 4 lines, got %d: %q", len(lines), got)
			}
			if lines[0] != "You are a language teacher." {
				t.Errorf("persona line: %q", lines[0])
			}
			if !strings.HasPrefix(lines[1], tt.wantLang) {
				t.Errorf("language line: %q", lines[1])
			}
			if !strings.HasPrefix(lines[2], tt.wantTone) {
				t.Errorf("style line: %q", lines[2])
			}
		})
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()
	if got := Select("Custom {word}", "formal", "en"); got != "Custom {word}" {
		t.Errorf("custom template: got %q", got)
	}
	if got := Select("   \n", "formal", "en"); got != TemplateFor("formal", "en") {
		t.Errorf("blank custom should fall back, got %q", got)
	}
}
