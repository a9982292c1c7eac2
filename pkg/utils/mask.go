package utils

import "strings"

// MaskSensitive hides all but the last visibleChars characters of a secret
// such as a stream key or bearer token.
func MaskSensitive(s string, visibleChars int) string {
	if visibleChars < 0 {
		visibleChars = 0
	}
	if len(s) <= visibleChars {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-visibleChars) + s[len(s)-visibleChars:]
}
