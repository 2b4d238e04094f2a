package locale

import (
	"strings"
	"unicode"
)

// isSpace reports whitespace-class runes. unicode.IsSpace already covers the
// no-break spaces (U+00A0, U+2007, U+202F); zero-width characters are added
// because storefront templates use them as invisible separators.
func isSpace(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
		return true
	}
	return unicode.IsSpace(r)
}

// Normalize strips every whitespace-class rune from s. The result is used for
// heading comparison and emptiness checks, never for display.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if isSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Tidy collapses whitespace runs to a single ASCII space and trims the ends.
func Tidy(s string) string {
	return strings.Join(strings.FieldsFunc(s, isSpace), " ")
}

// Equivalent reports whether two headings name the same section: their
// normalized forms are equal or one contains the other. Empty forms never
// match, otherwise a blank heading would match every label.
func Equivalent(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}
