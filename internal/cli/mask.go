package cli

import (
	"strings"
	"unicode/utf8"
)

// MaskSecret hides all but a short suffix of s:
//
//	| Length | Format      | Example  |
//	|--------|-------------|----------|
//	| 1-4    | All *       | ****     |
//	| 5-8    | Show last 2 | ******XY |
//	| 9+     | Show last 4 | ****WXYZ |
//
// Length is counted in runes.
func MaskSecret(s string) string {
	runes := []rune(s)
	n := len(runes)
	switch {
	case n == 0:
		return ""
	case n <= 4:
		return strings.Repeat("*", n)
	case n <= 8:
		return strings.Repeat("*", n-2) + string(runes[n-2:])
	default:
		return strings.Repeat("*", n-4) + string(runes[n-4:])
	}
}

// SecretLength returns the length of s in runes.
func SecretLength(s string) int {
	return utf8.RuneCountInString(s)
}
