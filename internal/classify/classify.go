// Package classify assigns a label to document text by keyword containment.
package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jackzampolin/doclabel/internal/labels"
)

// Unknown is returned when no definition matches.
const Unknown = "Unknown"

// Normalize decomposes s, drops combining marks and lowercases the result,
// so "Fátura" and "FATURA" both become "fatura".
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Classify returns the label of the first definition, in catalog order,
// whose keywords all occur in text. Definitions without keywords, or with a
// keyword that normalizes to nothing, never match.
func Classify(text string, snap labels.Snapshot) string {
	if len(snap.Definitions) == 0 {
		return Unknown
	}
	normalized := Normalize(text)
	for _, def := range snap.Definitions {
		if matches(normalized, def.Keywords) {
			return def.Label
		}
	}
	return Unknown
}

// Match reports whether every keyword occurs in text.
func Match(text string, keywords []string) bool {
	return matches(Normalize(text), keywords)
}

func matches(normalized string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	for _, kw := range keywords {
		key := strings.TrimSpace(Normalize(kw))
		if key == "" || !strings.Contains(normalized, key) {
			return false
		}
	}
	return true
}
