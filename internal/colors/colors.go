// Package colors translates Xonotic (DarkPlaces) inline color codes into IRC
// color codes or plain text. Nicknames and chat lines arrive from the server
// as raw bytes containing ^N / ^xRGB escapes plus qfont glyphs in the U+E0xx
// private-use plane.
package colors

import (
	"bytes"
	"regexp"
	"strconv"
	"unicode/utf8"
)

var dpCode = regexp.MustCompile(`(\^\^)|(\^[0-9])|(\^x[0-9a-fA-F]{3})`)

// IRC color numbers for the eight base console colors, bright and dark.
var ircBright = [8]string{"14", "04", "09", "07", "12", "13", "11", ""}
var ircDark = [8]string{"01", "05", "03", "07", "02", "06", "10", "15"}

// DpToNone strips all color escapes, returning plain text.
func DpToNone(text []byte) []byte {
	return dpCode.ReplaceAllFunc(decodeQFont(text), func(m []byte) []byte {
		if bytes.Equal(m, []byte("^^")) {
			return []byte("^")
		}
		return nil
	})
}

// StripString is DpToNone for string callers.
func StripString(text string) string {
	return string(DpToNone([]byte(text)))
}

// DpToIRC converts color escapes to mIRC codes and appends a reset so the
// message does not bleed into the rest of the IRC line.
func DpToIRC(text []byte) []byte {
	out := dpCode.ReplaceAllFunc(decodeQFont(text), func(m []byte) []byte {
		if bytes.Equal(m, []byte("^^")) {
			return []byte("^")
		}
		return ircCode(m)
	})
	return append(out, '\x0f')
}

// ircCode maps one ^N or ^xRGB escape to the closest mIRC color code.
func ircCode(esc []byte) []byte {
	var code int
	bright := false
	if len(esc) == 2 { // ^N
		code = int(esc[1] - '0')
		bright = true
		// DarkPlaces swaps cyan and magenta relative to the ANSI order.
		switch code {
		case 5:
			code = 6
		case 6:
			code = 5
		}
		if code > 7 {
			code = 7
		}
	} else { // ^xRGB
		code, bright = from12BitHex(esc[2:])
	}
	var num string
	if bright {
		num = ircBright[code]
	} else {
		num = ircDark[code]
	}
	if num == "" {
		return []byte("\x0f")
	}
	return append([]byte{'\x03'}, num...)
}

// from12BitHex reduces a 12-bit RGB value to one of the eight base colors by
// hue, the same bucketing Melanobot uses.
func from12BitHex(hex []byte) (int, bool) {
	r, _ := strconv.ParseInt(string(hex[0:1]), 16, 32)
	g, _ := strconv.ParseInt(string(hex[1:2]), 16, 32)
	b, _ := strconv.ParseInt(string(hex[2:3]), 16, 32)
	v := max3(r, g, b)
	d := v - min3(r, g, b)
	if d == 0 {
		if v > 7 {
			return 7, v > 9
		}
		return 0, v > 9
	}
	var h float64
	switch v {
	case r:
		h = float64(g-b) / float64(d)
	case g:
		h = float64(b-r)/float64(d) + 2
	default:
		h = float64(r-g)/float64(d) + 4
	}
	if float64(d)/float64(v) <= 0.3 {
		if v > 7 {
			return 7, v > 9
		}
		return 0, v > 9
	}
	if h < 0 {
		h += 6
	}
	var c int
	switch {
	case h < 0.5:
		c = 1 // red
	case h < 1.5:
		c = 3 // yellow
	case h < 2.5:
		c = 2 // green
	case h < 3.5:
		c = 6 // cyan
	case h < 4.5:
		c = 4 // blue
	case h < 5.5:
		c = 5 // magenta
	default:
		c = 1
	}
	return c, v > 9
}

func max3(a, b, c int64) int64 {
	if b > a {
		a = b
	}
	if c > a {
		a = c
	}
	return a
}

func min3(a, b, c int64) int64 {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// decodeQFont replaces qfont private-use runes (U+E000..U+E0FF) with their
// ASCII lookalikes and passes everything else through untouched.
func decodeQFont(text []byte) []byte {
	var out []byte
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRune(text[i:])
		if r != utf8.RuneError && r&0xFF00 == 0xE000 {
			out = append(out, qfontTable[r&0xFF]...)
		} else {
			out = append(out, text[i:i+size]...)
		}
		i += size
	}
	return out
}

var qfontTable = [256]string{
	"", " ", "-", " ", "_", "#", "+", "·", "F", "T", " ", "#", "·", "<", "#", "#",
	"[", "]", ":)", ":)", ":(", ":P", ":/", ":D", "«", "»", "·", "-", "#", "-", "-", "-",
	"?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?",
	"?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?",
	"?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?",
	"?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?",
	"?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?",
	"?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?", "?",
	"=", "=", "=", "#", "¡", "[o]", "[u]", "[i]", "[c]", "[c]", "[r]", "#", "¿", ">", "#", "#",
	"[", "]", ":)", ":)", ":(", ":P", ":/", ":D", "«", "»", "#", "X", "#", "-", "-", "-",
	" ", "!", "\"", "#", "$", "%", "&", "'", "(", ")", "*", "+", ",", "-", ".", "/",
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", ":", ";", "<", "=", ">", "?",
	"@", "A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M", "N", "O",
	"P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y", "Z", "[", "\\", "]", "^", "_",
	".", "A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M", "N", "O",
	"P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y", "Z", "{", "|", "}", "~", "<",
}
