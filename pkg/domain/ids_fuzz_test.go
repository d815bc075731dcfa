//go:build go1.18

package domain

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// FuzzParseIdentityKey tests that parsing never panics on arbitrary input and
// that accepted values round-trip exactly.
func FuzzParseIdentityKey(f *testing.F) {
	f.Add("")
	f.Add(strings.Repeat("ab", 32))
	f.Add(strings.Repeat("00", 32))
	f.Add("not-hex")
	f.Add("'; DROP TABLE voters;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add(strings.Repeat("AB", 32))

	f.Fuzz(func(t *testing.T, input string) {
		k, err := ParseIdentityKey(input)
		if err != nil {
			return
		}

		// Accepted keys must round-trip through hex
		roundTrip, err2 := ParseIdentityKey(k.String())
		if err2 != nil {
			t.Errorf("valid key failed round-trip: %v", err2)
		}
		if roundTrip != k {
			t.Error("round-trip changed key value")
		}

		// Non-UTF8 input cannot decode as hex, so acceptance implies valid UTF-8
		if !utf8.ValidString(input) {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseDigests ensures Fingerprint and IdentityKey parsing agree on
// everything except the all-zero value, which only keys reject.
func FuzzParseDigests(f *testing.F) {
	f.Add(strings.Repeat("ab", 32))
	f.Add(strings.Repeat("00", 32))
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		_, errKey := ParseIdentityKey(input)
		_, errFp := ParseFingerprint(input)

		if errKey == nil && errFp != nil {
			t.Error("identity key accepted input that fingerprint rejected")
		}
		if errFp == nil && errKey != nil && input != strings.Repeat("00", 32) {
			t.Errorf("fingerprint accepted input that identity key rejected: %q", input)
		}
	})
}
