// File path: internal/track/label.go
package track

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// structural segment words skipped when deriving boolean option labels
var genericSegments = map[string]struct{}{
	"value":    {},
	"selected": {},
	"checkbox": {},
	"option":   {},
}

// FieldLabel derives a display label for a path: the second-to-last segment
// with underscores replaced by spaces, "ID" stripped, trimmed and
// title-cased. Paths with fewer than two segments fall back to the whole
// path.
func FieldLabel(path string) string {
	segments := strings.Split(path, ".")
	if len(segments) >= 2 {
		return titleCase(cleanSegment(segments[len(segments)-2]))
	}
	return titleCase(strings.ReplaceAll(path, "_", " "))
}

// OptionLabel derives a display label for one boolean-group option: walking
// segments from the end, the first one that is neither a generic structural
// word nor the group's own name wins. When every segment is skipped, the
// last raw segment is used.
func OptionLabel(path, group string) string {
	segments := strings.Split(path, ".")
	for i := len(segments) - 1; i >= 0; i-- {
		clean := cleanSegment(segments[i])
		lower := strings.ToLower(clean)
		if _, generic := genericSegments[lower]; generic {
			continue
		}
		if group != "" && lower == strings.ToLower(group) {
			continue
		}
		if clean == "" {
			continue
		}
		return titleCase(clean)
	}
	return titleCase(strings.ReplaceAll(segments[len(segments)-1], "_", " "))
}

func cleanSegment(segment string) string {
	s := strings.ReplaceAll(segment, "_", " ")
	s = strings.ReplaceAll(s, "ID", "")
	return strings.TrimSpace(s)
}

// titleCase upper-cases the first letter of each space-separated word,
// leaving the rest of the word untouched so camel-cased identifiers stay
// readable.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		r, size := utf8.DecodeRuneInString(word)
		words[i] = string(unicode.ToUpper(r)) + word[size:]
	}
	return strings.Join(words, " ")
}
