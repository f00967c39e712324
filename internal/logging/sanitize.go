package logging

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultExcerptLen bounds error excerpts in logs and status records.
const DefaultExcerptLen = 1000

const truncatedMarker = " ...(truncated)"

// SanitizeForLog escapes control characters so tool output cannot forge log lines or
// drive the terminal. Printable unicode is kept as is.
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch r {
		case '\n':
			result.WriteString("\\n")
		case '\r':
			result.WriteString("\\r")
		case '\t':
			result.WriteString("\\t")
		case '\x00':
			result.WriteString("\\x00")
		default:
			if r < 32 || r == 127 {
				result.WriteString(fmt.Sprintf("\\x%02x", r))
			} else if r == utf8.RuneError {
				result.WriteRune('?')
			} else {
				result.WriteRune(r)
			}
		}
	}
	return result.String()
}

// Excerpt trims, sanitizes and truncates s to at most max runes of content.
func Excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 {
		max = DefaultExcerptLen
	}
	if utf8.RuneCountInString(s) > max {
		runes := []rune(s)
		s = string(runes[:max]) + truncatedMarker
	}
	return SanitizeForLog(s)
}
