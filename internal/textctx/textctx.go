// Package textctx derives the context passed along with a looked-up word: the
// sentence the word appears in, optionally widened by neighbouring sentences.
//
// Sentence boundaries follow the Unicode UAX #29 sentence rules, so CJK full
// stops and quoted sentences segment correctly.
package textctx

import (
	"strings"

	"github.com/clipperhouse/uax29/v2/sentences"
)

type span struct{ start, end int }

func split(text string) []span {
	var out []span
	iter := sentences.FromString(text)
	for iter.Next() {
		if strings.TrimSpace(iter.Value()) == "" {
			continue
		}
		out = append(out, span{iter.Start(), iter.End()})
	}
	return out
}

// index returns the sentence containing byte offset, clamping offsets that
// fall outside text or between sentences to the nearest following sentence.
func index(spans []span, offset int) int {
	for i, s := range spans {
		if offset < s.end {
			return i
		}
	}
	return len(spans) - 1
}

// Sentence returns the trimmed sentence containing byte offset, or "" for
// blank text.
func Sentence(text string, offset int) string {
	return Around(text, offset, 0)
}

// Around returns the sentence containing byte offset joined with up to n
// sentences on each side. The original spacing between sentences is kept.
func Around(text string, offset, n int) string {
	spans := split(text)
	if len(spans) == 0 {
		return ""
	}
	if n < 0 {
		n = 0
	}
	i := index(spans, offset)
	lo, hi := max(i-n, 0), min(i+n, len(spans)-1)
	return strings.TrimSpace(text[spans[lo].start:spans[hi].end])
}

// ContainingWord locates the first occurrence of word in text and returns
// its context as [Around] does. Matching is exact first, then ASCII
// case-insensitive. It returns "" when word does not occur.
func ContainingWord(text, word string, n int) string {
	word = strings.TrimSpace(word)
	if word == "" {
		return ""
	}
	at := strings.Index(text, word)
	if at < 0 {
		at = indexFold(text, word)
	}
	if at < 0 {
		return ""
	}
	return Around(text, at, n)
}

// indexFold is strings.Index with ASCII case folding. Byte offsets stay valid
// because only ASCII letters are folded.
func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if asciiEqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

func asciiEqualFold(a, b string) bool {
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
