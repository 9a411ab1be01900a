package prompt

import (
	"strings"

	"github.com/MrWong99/wordlens/pkg/types"
)

var languageLines = map[types.Language]string{
	types.LanguageEnglish: "Write the meanings in English (JSON keys stay as specified).",
	types.LanguageSpanish: "Escribe los significados en español (las claves JSON se mantienen).",
	types.LanguageChinese: "释义内容请使用中文（JSON 键保持为系统指定）。",
}

var styleLines = map[types.Style][2]string{
	types.StyleFormal: {
		"Style: formal, academic, precise; avoid jokes and avoid fluff.",
		"Prefer clear definitions over paraphrase.",
	},
	types.StyleHumorous: {
		"Style: light and humorous but still accurate; keep it tasteful and brief.",
		"No emojis unless absolutely necessary.",
	},
	types.StyleFriendly: {
		"Style: friendly teacher; simple and clear; brief.",
		"Use easy wording suitable for learners.",
	},
}

// TemplateFor returns the built-in persona template for a style and language.
// Unknown values fall back to friendly and Chinese.
func TemplateFor(style types.Style, lang types.Language) string {
	s := styleLines[style.Normalize()]
	return strings.Join([]string{
		"You are a language teacher.",
		languageLines[lang.Normalize()],
		s[0],
		s[1],
	}, "\n")
}

// Select returns custom when it holds any non-blank text, otherwise the
// built-in template for style and lang.
func Select(custom string, style types.Style, lang types.Language) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	return TemplateFor(style, lang)
}
