package parser

import (
	"strconv"
	"strings"
)

const hexEscapeMarker = `\x`

// UnescapeHex converts \xHH escape sequences in tool output into their
// raw bytes. Connection-listing tools escape spaces and non-ASCII bytes
// in process names this way ("Brave\x20Browser"). Input without the
// escape marker is returned unchanged without allocation.
//
// A malformed escape (truncated, or non-hex digits) is kept literally;
// the parsers never reject a line over a bad escape.
func UnescapeHex(s string) string {
	if !strings.Contains(s, hexEscapeMarker) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 4
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}

	return b.String()
}
