package validators

import (
	"strings"
	"unicode"
)

// SearchText trims a free-text filter and caps it at maxRunes characters.
// Invalid UTF-8 and control characters are dropped; truncation never splits
// a character. maxRunes <= 0 disables the cap.
func SearchText(input string, maxRunes int) string {
	var b strings.Builder
	count := 0
	for _, r := range strings.TrimSpace(input) {
		if r == unicode.ReplacementChar || unicode.IsControl(r) {
			continue
		}
		if maxRunes > 0 && count == maxRunes {
			break
		}
		b.WriteRune(r)
		count++
	}
	return strings.TrimSpace(b.String())
}
