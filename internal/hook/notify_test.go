package hook

import (
	"bytes"
	"strings"
	"testing"

	"github.com/FalcoGer/pmp/internal/relay"
)

func TestNotifyPrintsAndForwards(t *testing.T) {
	var out bytes.Buffer
	h := newFakeHandle()
	n := NewNotify(&out, nil)

	if err := n.Handle([]byte("ABCD"), h, relay.RoleClient); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("output = %q", out.String())
	}
	if lines[0] != "web [C -> S] - (4 Bytes)" {
		t.Errorf("notification = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "|ABCD|") {
		t.Errorf("hexdump = %q", lines[1])
	}
	if got := h.got(relay.RoleServer); string(got) != "ABCD" {
		t.Errorf("forwarded %q to server", got)
	}

	out.Reset()
	if err := n.Handle([]byte("z"), h, relay.RoleServer); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.HasPrefix(out.String(), "web [C <- S] - (1 Byte)\n") {
		t.Errorf("notification = %q", out.String())
	}
}

func TestNotifyHonoursSettings(t *testing.T) {
	var out bytes.Buffer
	h := newFakeHandle()
	h.settings.Session.PacketNotification = false
	h.settings.Hook.Hexdump = false
	var seen []byte
	n := NewNotify(&out, relay.HookFunc(func(data []byte, h relay.Handle, origin relay.Role) error {
		seen = data
		return nil
	}))
	if err := n.Handle([]byte("quiet"), h, relay.RoleClient); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("printed %q with output disabled", out.String())
	}
	if string(seen) != "quiet" {
		t.Errorf("wrapped hook saw %q", seen)
	}
	if len(h.got(relay.RoleServer)) != 0 {
		t.Error("wrapped hook bypassed")
	}
}
