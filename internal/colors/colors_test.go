package colors

import (
	"bytes"
	"testing"
)

func TestDpToNone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "No codes",
			input:    "plain nickname",
			expected: "plain nickname",
		},
		{
			name:     "Numeric codes stripped",
			input:    "^1red^7 and ^2green",
			expected: "red and green",
		},
		{
			name:     "Hex codes stripped",
			input:    "^xF00hot^x0FFcold",
			expected: "hotcold",
		},
		{
			name:     "Escaped caret preserved",
			input:    "10^^2 damage",
			expected: "10^2 damage",
		},
		{
			name:     "QFont glyphs converted",
			input:    "",
			expected: "012",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DpToNone([]byte(tt.input))
			if string(got) != tt.expected {
				t.Errorf("DpToNone(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDpToIRC(t *testing.T) {
	got := DpToIRC([]byte("^1red^7white"))
	if !bytes.HasSuffix(got, []byte("\x0f")) {
		t.Errorf("DpToIRC output missing trailing reset: %q", got)
	}
	if !bytes.Contains(got, []byte("\x0304red")) {
		t.Errorf("DpToIRC did not translate ^1 to bright red: %q", got)
	}
	// ^7 (white, bright) maps to a bare reset rather than a color code.
	if !bytes.Contains(got, []byte("\x0fwhite")) {
		t.Errorf("DpToIRC did not reset on ^7: %q", got)
	}
}

func TestDpToIRCHexBuckets(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		code string
	}{
		{"Pure red", "^xF00x", "\x0304"},
		{"Pure green", "^x0F0x", "\x0309"},
		{"Pure blue", "^x00Fx", "\x0312"},
		{"Grey", "^x888x", "\x0315"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DpToIRC([]byte(tt.hex))
			if !bytes.Contains(got, []byte(tt.code)) {
				t.Errorf("DpToIRC(%q) = %q, want contains %q", tt.hex, got, tt.code)
			}
		})
	}
}
