package hook

import (
	"fmt"
	"strconv"
	"strings"
)

// Hexdump renders data as "OFFSET  HEX  |TEXT|" lines with perLine bytes per
// line, split into groups of perGroup bytes. A perGroup of zero disables
// grouping. Short final lines are padded so the text column lines up.
func Hexdump(data []byte, perLine, perGroup int) []string {
	if perLine < 1 {
		perLine = 16
	}
	width := len(strconv.FormatInt(int64(len(data)), 16))
	if width < 8 {
		width = 8
	}
	hexWidth := perLine * 2
	if perGroup > 0 {
		hexWidth += (perLine - 1) / perGroup
	}

	lines := make([]string, 0, (len(data)+perLine-1)/perLine)
	var hx, txt strings.Builder
	for off := 0; off < len(data); off += perLine {
		hx.Reset()
		txt.Reset()
		for i, b := range data[off:min(off+perLine, len(data))] {
			if i > 0 && perGroup > 0 && i%perGroup == 0 {
				hx.WriteByte(' ')
				txt.WriteByte(' ')
			}
			fmt.Fprintf(&hx, "%02X", b)
			if b >= 0x20 && b < 0x7f {
				txt.WriteByte(b)
			} else {
				txt.WriteByte('.')
			}
		}
		lines = append(lines, fmt.Sprintf("%0*X  %-*s  |%s|", width, off, hexWidth, hx.String(), txt.String()))
	}
	return lines
}
