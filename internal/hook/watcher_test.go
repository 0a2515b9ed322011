package hook

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/FalcoGer/pmp/internal/relay"
)

type hookSink struct {
	mu    sync.Mutex
	hooks []relay.Hook
}

func (s *hookSink) SetHook(h relay.Hook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

func (s *hookSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hooks)
}

func (s *hookSink) last() relay.Hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hooks[len(s.hooks)-1]
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func writeFile(t *testing.T, path, text string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const upperRule = "rules:\n  - match: a\n    action: replace\n    replace: A\n"
const dropRule = "rules:\n  - action: drop\n"

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, path, upperRule)

	sink := &hookSink{}
	var wrapped int
	w, err := NewWatcher(path, sink, func(h relay.Hook) relay.Hook {
		wrapped++
		return h
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()
	if sink.count() != 1 || wrapped != 1 {
		t.Fatalf("initial load installed %d hooks, wrapped %d", sink.count(), wrapped)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	writeFile(t, path, dropRule)
	waitUntil(t, "reload", func() bool { return sink.count() >= 2 })

	h := newFakeHandle()
	if err := sink.last().Handle([]byte("abc"), h, relay.RoleClient); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := h.got(relay.RoleServer); len(got) != 0 {
		t.Errorf("reloaded rules forwarded %q", got)
	}

	before := sink.count()
	writeFile(t, path, "rules: [\n")
	time.Sleep(300 * time.Millisecond)
	if sink.count() != before {
		t.Error("broken rule file replaced the installed hook")
	}

	cancel()
	<-done
}

func TestWatcherMissingFile(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), &hookSink{}, nil)
	if err == nil {
		t.Fatal("NewWatcher accepted a missing file")
	}
}
