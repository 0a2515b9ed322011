package obs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
)

var (
	mu           sync.RWMutex
	level        = new(slog.LevelVar)
	base         = newLogger(os.Stderr)
	debugEnabled bool
)

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) {
	mu.Lock()
	debugEnabled = v
	mu.Unlock()
	if v {
		level.Set(slog.LevelDebug)
		return
	}
	level.Set(slog.LevelInfo)
}

// SetOutput redirects all log records to w. Operator-facing output goes to
// stdout, so logs default to stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	base = newLogger(w)
	mu.Unlock()
}

type Fields map[string]any

func logWith(lvl slog.Level, msg string, f Fields) {
	mu.RLock()
	l := base
	mu.RUnlock()
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, f[k])
	}
	l.Log(context.Background(), lvl, msg, args...)
}

func Info(msg string, f Fields)  { logWith(slog.LevelInfo, msg, f) }
func Error(msg string, f Fields) { logWith(slog.LevelError, msg, f) }
func Debug(msg string, f Fields) {
	mu.RLock()
	on := debugEnabled
	mu.RUnlock()
	if on {
		logWith(slog.LevelDebug, msg, f)
	}
}
