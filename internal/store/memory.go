package store

import (
	"sort"
	"sync"

	"github.com/FalcoGer/pmp/internal/relay"
)

// Memory keeps settings for the lifetime of the process.
type Memory struct {
	mu       sync.Mutex
	settings map[string]relay.Settings
	closing  bool
	ready    bool
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{settings: make(map[string]relay.Settings)}
}

func (m *Memory) Load(name string) (relay.Settings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[name]
	return s, ok, nil
}

func (m *Memory) Save(name string, s relay.Settings) error {
	m.mu.Lock()
	m.settings[name] = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) Names() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.settings))
	for name := range m.settings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) SetClosing(closing bool) { m.mu.Lock(); m.closing = closing; m.mu.Unlock() }
func (m *Memory) SetReady(ready bool)     { m.mu.Lock(); m.ready = ready; m.mu.Unlock() }
func (m *Memory) IsClosing() bool         { m.mu.Lock(); defer m.mu.Unlock(); return m.closing }
func (m *Memory) IsReady() bool           { m.mu.Lock(); defer m.mu.Unlock(); return m.ready }
func (m *Memory) Close() error            { return nil }
