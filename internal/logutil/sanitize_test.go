package logutil

import "testing"

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"line1\nline2", "line1 line2"},
		{"crlf\r\nline", "crlf  line"},
		{"tab\tseparated", "tab separated"},
		{"bell\x07escape\x1b", "bellescape"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeForLog(tt.in); got != tt.want {
			t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
