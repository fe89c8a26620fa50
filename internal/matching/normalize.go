package matching

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Normalize canonicalizes label and concept text for comparison: it lowercases
// the input and keeps only ASCII letters, digits and spaces. Surrounding spaces
// are trimmed both before and after filtering, so "First Name *" and
// "first name" share the same form and Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	lowered := cases.Lower(language.Und).String(strings.TrimSpace(text))

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}

	return strings.Trim(b.String(), " ")
}
