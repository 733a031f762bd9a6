// Package strings holds text helpers for terminal output.
package strings

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxLen is the column width used for free-form values such as
// issuers and error descriptions.
const DefaultMaxLen = 60

const ellipsis = "..."

// Truncate collapses s to a single line and shortens it to at most maxLen
// runes, ending in "..." when something was cut. maxLen is raised to fit
// at least one rune before the ellipsis.
func Truncate(s string, maxLen int) string {
	if minLen := len(ellipsis) + 1; maxLen < minLen {
		maxLen = minLen
	}
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen-len(ellipsis)]) + ellipsis
}

// Mask hides all but the first four runes of a secret so it can be told
// apart from others without being revealed. Short secrets are fully masked.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	runes := []rune(secret)
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:4]) + strings.Repeat("*", 8)
}
