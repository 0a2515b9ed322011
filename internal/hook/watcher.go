package hook

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/FalcoGer/pmp/internal/obs"
	"github.com/FalcoGer/pmp/internal/relay"
	"github.com/fsnotify/fsnotify"
)

// Target receives freshly loaded hooks. relay.Registry satisfies it.
type Target interface {
	SetHook(h relay.Hook)
}

// Watcher reloads a rule file whenever it changes and installs the result on
// its target. Live connections are untouched; only later chunks see the new
// rules. A file that fails to parse leaves the previous hook in place.
type Watcher struct {
	path   string
	target Target
	wrap   func(relay.Hook) relay.Hook
	fs     *fsnotify.Watcher
	// settle lets editors finish a burst of writes before the reload.
	settle time.Duration
}

// NewWatcher loads path, installs it on target and starts watching. wrap, if
// not nil, decorates every loaded rule set before it is installed.
func NewWatcher(path string, target Target, wrap func(relay.Hook) relay.Hook) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: abs, target: target, wrap: wrap, settle: 50 * time.Millisecond}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch rules: %w", err)
	}
	// Watch the directory: editors often replace the file instead of writing
	// it in place, which drops a watch on the file itself.
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w.fs = fs
	return w, nil
}

// Reload parses the rule file and installs it.
func (w *Watcher) Reload() error {
	rules, err := LoadRules(w.path)
	if err != nil {
		obs.HookReloadsTotal.WithLabelValues("error").Inc()
		return err
	}
	var h relay.Hook = rules
	if w.wrap != nil {
		h = w.wrap(h)
	}
	w.target.SetHook(h)
	obs.HookReloadsTotal.WithLabelValues("ok").Inc()
	obs.Info("hook.reload", obs.Fields{"path": w.path, "rules": rules.Len()})
	return nil
}

// Run handles file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			obs.Debug("hook.watch.event", obs.Fields{"path": ev.Name, "op": ev.Op.String()})
			pending = time.After(w.settle)
		case <-pending:
			pending = nil
			if err := w.Reload(); err != nil {
				obs.Error("hook.reload", obs.Fields{"path": w.path, "err": err.Error()})
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			obs.Error("hook.watch", obs.Fields{"path": w.path, "err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("watch").Inc()
		}
	}
}

func (w *Watcher) Close() error { return w.fs.Close() }
