// Package normalize canonicalizes identity fields before fingerprinting.
//
// Fingerprints are deterministic digests, so two spellings of the same field
// must hash identically. All normalization lives here; hashing code never
// touches raw input.
package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FullName canonicalizes a person's full name: Unicode NFC, surrounding
// whitespace trimmed, internal whitespace runs collapsed to single spaces,
// uppercased.
//
// Example:
//
//	FullName("  jonas\t  Basanavičius ")
//	// Returns: "JONAS BASANAVIČIUS"
func FullName(s string) string {
	s = norm.NFC.String(s)
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(strings.Join(fields, " "))
}

// Identifier canonicalizes a national identifier: Unicode NFC, all whitespace
// removed, uppercased. Punctuation is preserved because some issuing schemes
// embed meaningful separators.
//
// Example:
//
//	Identifier(" 3901\t0112 345 ")
//	// Returns: "39010112345"
func Identifier(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
