package escape

import (
	"bytes"
	"errors"
	"testing"
)

func TestExpand(t *testing.T) {
	cases := []struct {
		in   string
		want []byte
	}{
		{"plain", []byte("plain")},
		{`a\nb`, []byte("a\nb")},
		{`\r\t\b\f\v\a`, []byte("\r\t\b\f\v\a")},
		{`\\`, []byte(`\`)},
		{`\0`, []byte{0}},
		{`\012`, []byte{0, '1', '2'}},
		{`\x41\x7f\xff`, []byte{0x41, 0x7f, 0xff}},
		{`\101\102`, []byte("AB")},
		{`\377`, []byte{0xff}},
		{`say \"hi\"`, []byte(`say "hi"`)},
		{"ünï", []byte("ünï")},
		{"ሴ", []byte("ሴ")},
	}
	for _, tc := range cases {
		got, err := Expand(tc.in)
		if err != nil {
			t.Errorf("Expand(%q): %v", tc.in, err)
			continue
		}
		if !bytes.Equal(got, tc.want) {
			t.Errorf("Expand(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExpandErrors(t *testing.T) {
	for _, in := range []string{`\`, `abc\`, `\x4`, `\xzz`, `\19`, `\1`, `\q`, `\u1234`, `\U00001234`, `\N{x}`} {
		if _, err := Expand(in); !errors.Is(err, ErrInvalidEscape) {
			t.Errorf("Expand(%q) error = %v, want ErrInvalidEscape", in, err)
		}
	}
}

func TestDecodeHex(t *testing.T) {
	got, err := DecodeHex("41 42\t4344")
	if err != nil {
		t.Fatalf("DecodeHex: %v", err)
	}
	if !bytes.Equal(got, []byte("ABCD")) {
		t.Errorf("DecodeHex = %q", got)
	}
	if _, err := DecodeHex("414"); err == nil {
		t.Error("odd length accepted")
	}
	if _, err := DecodeHex("zz"); err == nil {
		t.Error("non-hex accepted")
	}
}

func TestParseInt(t *testing.T) {
	cases := map[string]int{
		"42":    42,
		"-7":    -7,
		"0x1F":  31,
		"xff":   255,
		"0o17":  15,
		"o17":   15,
		"017":   15,
		"0":     0,
		"0b101": 5,
		"b11":   3,
		"-0x10": -16,
	}
	for in, want := range cases {
		got, err := ParseInt(in)
		if err != nil || got != want {
			t.Errorf("ParseInt(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	for _, in := range []string{"", "x", "0x", "12a", "09", "b2", "--1"} {
		if _, err := ParseInt(in); err == nil {
			t.Errorf("ParseInt(%q) succeeded", in)
		}
	}
}
