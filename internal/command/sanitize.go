package command

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTextLength caps free-text arguments, in runes.
const MaxTextLength = 10000

// SanitizeText prepares a free-text payload value for use as an argument.
// Invalid UTF-8 becomes U+FFFD, control characters other than newline and
// tab are removed, and the result is cut to MaxTextLength runes.
func SanitizeText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}

	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if n == MaxTextLength {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
