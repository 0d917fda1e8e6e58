// Package recon implements the reconciliation core: the scalar diff
// engine, the roster reconciler and the concurrency guard. Everything
// here is pure; persistence and transactions live in the controller
// and db packages.
package recon

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes and removes combining marks so "Wéi" and "Wei"
// produce the same key.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NameKey reduces a person or entity name to its matching key:
// diacritics stripped, punctuation dropped, case folded, whitespace
// collapsed. "Tan, Wei-Ming" and "TAN WEI MING" share a key.
func NameKey(name string) string {
	s, _, err := transform.String(stripMarks, name)
	if err != nil {
		s = name
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsSpace(r), r == '-', r == ',', r == '.', r == '\'':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// codeKey normalizes role and share-class codes for exact matching.
func codeKey(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
