package logging

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxDetailLen bounds sanitized log values, in runes
const MaxDetailLen = 512

// Sanitize makes an untrusted string safe for a single log line: it is NFC
// normalized, control characters become spaces and the result is cut to max runes.
func Sanitize(s string, max int) string {
	if max <= 0 {
		max = MaxDetailLen
	}

	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if n == max {
			b.WriteString("...")
			break
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			r = ' '
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}
