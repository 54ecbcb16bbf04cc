package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// NormalizePhone keeps only '+' and digits, folding full-width digits to
// ASCII first. It returns "" when nothing remains. Normalizing an already
// normalized number returns it unchanged.
func NormalizePhone(phone string) string {
	s := width.Narrow.String(strings.TrimSpace(phone))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '+' || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeName trims and collapses internal whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
