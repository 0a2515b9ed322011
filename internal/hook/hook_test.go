package hook

import (
	"bytes"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/FalcoGer/pmp/internal/obs"
	"github.com/FalcoGer/pmp/internal/relay"
)

func TestMain(m *testing.M) {
	obs.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakeHandle records what a hook sends.
type fakeHandle struct {
	mu           sync.Mutex
	name         string
	settings     relay.Settings
	sent         map[relay.Role][][]byte
	disconnected bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{name: "web", settings: relay.DefaultSettings(), sent: make(map[relay.Role][][]byte)}
}

func (f *fakeHandle) Name() string { return f.name }

func (f *fakeHandle) SendData(to relay.Role, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[to] = append(f.sent[to], data)
}

func (f *fakeHandle) SendToClient(data []byte) { f.SendData(relay.RoleClient, data) }
func (f *fakeHandle) SendToServer(data []byte) { f.SendData(relay.RoleServer, data) }
func (f *fakeHandle) Disconnect()              { f.disconnected = true }
func (f *fakeHandle) Settings() relay.Settings { return f.settings }

func (f *fakeHandle) Setting(key relay.SettingKey) (any, error) { return f.settings.Get(key) }
func (f *fakeHandle) SetSetting(key relay.SettingKey, value any) error {
	return f.settings.Set(key, value)
}

// got joins everything sent to role.
func (f *fakeHandle) got(role relay.Role) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Join(f.sent[role], nil)
}

func (f *fakeHandle) reset() {
	f.mu.Lock()
	f.sent = make(map[relay.Role][][]byte)
	f.mu.Unlock()
}
