package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName returns the comparison key for a guest name: NFC form,
// Unicode case folding, and runs of whitespace collapsed to one space.
// "Maria Silva" and " maria   SILVA " share a key.
func NormalizeName(name string) string {
	s := norm.NFC.String(name)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// DisplayName trims and collapses whitespace but keeps the caller's casing.
func DisplayName(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}
