package logutil

import "strings"

// SanitizeForLog flattens newlines and strips control characters from
// externally sourced text before it reaches the log. Tunnel process output
// and request-supplied values would otherwise be able to forge log entries.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(' ')
		case r < 32:
			// drop other control characters
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
