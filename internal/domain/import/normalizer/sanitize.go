// Package normalizer cleans raw spreadsheet text before it reaches storage or
// the category mapping engine.
package normalizer

import (
	"strings"
	"unicode"
)

// DescriptionPlaceholder replaces blank transaction descriptions.
const DescriptionPlaceholder = "no description"

// formula prefixes a spreadsheet application would evaluate when the value is
// exported back out of the system.
const formulaPrefixes = "=+-@"

// Sanitize removes line breaks, tabs and other control characters, turns
// non-breaking and other Unicode spaces into plain spaces and strips leading
// formula characters so stored text cannot be interpreted as a spreadsheet
// formula.
func Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}

	s := strings.TrimSpace(b.String())
	for s != "" && strings.ContainsRune(formulaPrefixes, rune(s[0])) {
		s = strings.TrimLeftFunc(s[1:], unicode.IsSpace)
	}
	return strings.TrimSpace(s)
}

// Description sanitizes a description cell and substitutes the placeholder
// when nothing printable is left.
func Description(raw string) string {
	if s := Sanitize(raw); s != "" {
		return s
	}
	return DescriptionPlaceholder
}
