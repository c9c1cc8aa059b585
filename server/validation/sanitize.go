package validation

import (
	"strings"
	"unicode/utf8"
)

const maxConsecutiveNewlines = 3

// SanitizeText removes invisible and control characters from user text.
// Newlines and tabs survive, CRLF becomes LF and runs of newlines are
// capped. Applying it twice gives the same result as applying it once.
func SanitizeText(raw string) string {
	if !utf8.ValidString(raw) {
		raw = strings.ToValidUTF8(raw, "")
	}
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	var b strings.Builder
	b.Grow(len(raw))
	newlines := 0
	for _, r := range raw {
		if isInvisible(r) {
			continue
		}
		if r == '\n' {
			newlines++
			if newlines > maxConsecutiveNewlines {
				continue
			}
		} else {
			newlines = 0
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isInvisible(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case r < 0x20, r == 0x7f, r >= 0x80 && r <= 0x9f:
		return true
	case r == 0x00ad, r == 0x180e, r == 0xfeff:
		return true
	case r >= 0x200b && r <= 0x200f:
		return true
	case r >= 0x202a && r <= 0x202e:
		return true
	case r >= 0x2060 && r <= 0x2064:
		return true
	case r >= 0x2066 && r <= 0x2069:
		return true
	}
	return false
}
