package util

import (
	"strings"
	"unicode/utf8"
)

// TruncateUTF8 drops invalid UTF-8 and NUL bytes from b and keeps at most
// maxRunes runes. Honeypot payloads are attacker-controlled, so they pass
// through here before being stored.
func TruncateUTF8(b []byte, maxRunes int) string {
	s := strings.ToValidUTF8(string(b), "")
	s = strings.ReplaceAll(s, "\x00", "")
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}
