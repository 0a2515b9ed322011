// Package hook holds the interception hooks the relay runs on every chunk.
package hook

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/FalcoGer/pmp/internal/relay"
)

// Notify prints a line per chunk and, when enabled, its hexdump, then hands
// the chunk to Next. What it prints is controlled by the session settings.
type Notify struct {
	Out  io.Writer
	Next relay.Hook
	// NameWidth pads session names so lines from several sessions align.
	NameWidth int

	mu sync.Mutex
}

// NewNotify wraps next. A nil next forwards unchanged.
func NewNotify(out io.Writer, next relay.Hook) *Notify {
	return &Notify{Out: out, Next: next}
}

func (n *Notify) Handle(data []byte, h relay.Handle, origin relay.Role) error {
	st := h.Settings()
	if st.Session.PacketNotification || st.Hook.Hexdump {
		var b strings.Builder
		if st.Session.PacketNotification {
			unit := "Bytes"
			if len(data) == 1 {
				unit = "Byte"
			}
			fmt.Fprintf(&b, "%-*s [%s] - (%d %s)\n", n.NameWidth, h.Name(), origin.Arrow(), len(data), unit)
		}
		if st.Hook.Hexdump {
			for _, line := range Hexdump(data, st.Hook.BytesPerLine, st.Hook.BytesPerGroup) {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
		n.mu.Lock()
		_, _ = io.WriteString(n.Out, b.String())
		n.mu.Unlock()
	}
	next := n.Next
	if next == nil {
		next = relay.PassThrough
	}
	return next.Handle(data, h, origin)
}
