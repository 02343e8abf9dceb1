package encoding

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText returns s in Unicode NFC with control characters removed and
// surrounding whitespace trimmed. Titles typed on different platforms compare
// and render identically afterwards.
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}

	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}
