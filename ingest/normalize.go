package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// normalizeText lower-cases the input, drops punctuation and collapses
// whitespace runs into single spaces, so that minor re-publishing differences
// (casing, spacing, trailing punctuation) hash to the same digest.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastWasSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			if !lastWasSpace {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			b.WriteRune(r)
			lastWasSpace = false
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// ContentHash computes the dedup digest over the normalized title and body.
// Two articles with the same hash are treated as the same content even when
// they come from different urls.
func ContentHash(title string, body string) string {
	h := sha256.New()
	h.Write([]byte(normalizeText(title)))
	h.Write([]byte("\n"))
	h.Write([]byte(normalizeText(body)))
	return hex.EncodeToString(h.Sum(nil))
}
