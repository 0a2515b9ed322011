// Package escape turns operator-typed text into the raw bytes it stands for.
package escape

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidEscape = errors.New("invalid escape sequence")

var simple = map[byte]byte{
	'\\': '\\',
	'n':  '\n',
	'r':  '\r',
	't':  '\t',
	'b':  '\b',
	'f':  '\f',
	'v':  '\v',
	'a':  '\a',
	'0':  0,
	'"':  '"',
	'\'': '\'',
}

// Expand returns the bytes of s with backslash escapes resolved:
// \\ \n \r \t \b \f \v \a \0 \" \', \xHH with exactly two hex digits and
// \NNN with exactly three octal digits starting at 1-7. \0 is always NUL.
func Expand(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(s) {
			return nil, fmt.Errorf("%w: trailing backslash", ErrInvalidEscape)
		}
		c = s[i]
		if b, ok := simple[c]; ok {
			out = append(out, b)
			continue
		}
		switch {
		case c == 'x':
			if i+3 > len(s) {
				return nil, fmt.Errorf("%w at %d: \\x needs two hex digits", ErrInvalidEscape, i-1)
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("%w at %d: \\x%s", ErrInvalidEscape, i-1, s[i+1:i+3])
			}
			out = append(out, byte(v))
			i += 2
		case c >= '1' && c <= '7':
			if i+3 > len(s) {
				return nil, fmt.Errorf("%w at %d: octal escape needs three digits", ErrInvalidEscape, i-1)
			}
			v, err := strconv.ParseUint(s[i:i+3], 8, 16)
			if err != nil || v > 0xff {
				return nil, fmt.Errorf("%w at %d: \\%s", ErrInvalidEscape, i-1, s[i:i+3])
			}
			out = append(out, byte(v))
			i += 2
		default:
			return nil, fmt.Errorf("%w at %d: \\%c", ErrInvalidEscape, i-1, c)
		}
	}
	return out, nil
}

// DecodeHex decodes a hex string, ignoring any whitespace inside it.
func DecodeHex(s string) ([]byte, error) {
	compact := strings.Join(strings.Fields(s), "")
	b, err := hex.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return b, nil
}

// ParseInt reads an integer written in decimal or with a base prefix:
// 0x or x for hex, 0o, o or a leading 0 for octal, 0b or b for binary.
// A leading minus sign is allowed.
func ParseInt(s string) (int, error) {
	text, neg := strings.CutPrefix(s, "-")
	if strings.HasPrefix(text, "-") || strings.HasPrefix(text, "+") {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	base := 10
	for _, p := range []struct {
		prefix string
		base   int
	}{
		{"0x", 16}, {"x", 16},
		{"0o", 8}, {"o", 8},
		{"0b", 2}, {"b", 2},
	} {
		if rest, ok := strings.CutPrefix(text, p.prefix); ok {
			text, base = rest, p.base
			break
		}
	}
	if base == 10 && len(text) > 1 && text[0] == '0' {
		text, base = text[1:], 8
	}
	v, err := strconv.ParseInt(text, base, 0)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if neg {
		v = -v
	}
	return int(v), nil
}
