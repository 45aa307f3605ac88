// Package identity canonicalizes the loosely formatted identifiers that
// arrive from recognition services, visitors and resident callbacks:
// phone numbers, names, unit labels, plates and ID numbers.
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizePhone keeps only the ASCII digits of raw.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeName lower-cases raw, removes accents and collapses whitespace.
// "  José  ÁLVAREZ " becomes "jose alvarez".
func NormalizeName(raw string) string {
	lowered := strings.ToLower(raw)

	// transform.Chain keeps state between calls, so build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, lowered)
	if err != nil {
		stripped = lowered
	}
	return strings.Join(strings.Fields(stripped), " ")
}

// NormalizeUnit upper-cases a unit label and drops separators, so
// "apt 10-1", "#101" and "101" compare equal only when they should.
func NormalizeUnit(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		switch {
		case unicode.IsSpace(r), r == '-', r == '#', r == '.', r == '/':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePlate keeps upper-case ASCII letters and digits.
func NormalizePlate(raw string) string {
	return alnumUpper(raw)
}

// NormalizeIDNumber keeps upper-case ASCII letters and digits, so
// "1-2345-6789" and "123456789" are the same document.
func NormalizeIDNumber(raw string) string {
	return alnumUpper(raw)
}

func alnumUpper(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// minPhoneOverlap is the shortest normalized number allowed to match by
// containment. Anything shorter would match most stored numbers.
const minPhoneOverlap = 7

// PhonesMatch reports whether two phone numbers refer to the same line,
// tolerating a missing or extra international prefix on either side.
func PhonesMatch(a, b string) bool {
	a, b = NormalizePhone(a), NormalizePhone(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) < minPhoneOverlap {
		return false
	}
	return strings.Contains(long, short)
}
