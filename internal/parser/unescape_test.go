package parser

import "testing"

func TestUnescapeHex(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no escapes", "Safari", "Safari"},
		{"space", `Brave\x20Browser`, "Brave Browser"},
		{"trailing space", `Brave\x20`, "Brave "},
		{"multiple", `a\x20b\x20c`, "a b c"},
		{"utf8 byte pair", `caf\xc3\xa9`, "café"},
		{"truncated at end", `proc\x2`, `proc\x2`},
		{"bare marker", `proc\x`, `proc\x`},
		{"non-hex digits", `proc\xzz`, `proc\xzz`},
		{"mixed good and bad", `a\x20\xgg`, `a \xgg`},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UnescapeHex(tt.input); got != tt.want {
				t.Errorf("UnescapeHex(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
