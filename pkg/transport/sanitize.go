package transport

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// CSI, OSC and two-byte escape sequences.
var escapeSeq = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// Sanitize removes terminal escape sequences, bell and NUL bytes, and applies backspaces.
// Incomplete sequences at the end of s are left in place until the rest arrives.
func Sanitize(s string) string {
	if strings.IndexByte(s, 0x1b) >= 0 {
		s = escapeSeq.ReplaceAllString(s, "")
	}
	if !strings.ContainsAny(s, "\b\x07\x00") {
		return s
	}

	// invalid UTF-8 is kept byte for byte
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\b':
			if len(out) > 0 && out[len(out)-1] != '\n' {
				_, size := utf8.DecodeLastRune(out)
				out = out[:len(out)-size]
			}
		case '\x07', '\x00':
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
