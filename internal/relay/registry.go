package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

var (
	ErrDuplicateSession = errors.New("duplicate session name")
	ErrNoSession        = errors.New("no such session")
)

// Registry owns the named sessions of one process in the order they were
// added and tracks which one the operator has selected.
type Registry struct {
	opts Options

	mu       sync.Mutex
	sessions []*Session
	byName   map[string]*Session
	selected *Session
}

// NewRegistry returns an empty registry. opts is used for every session it
// creates.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, byName: make(map[string]*Session)}
}

// Add creates a session for m. The first session added becomes selected.
func (r *Registry) Add(m Mapping) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[m.Name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateSession, m.Name)
	}
	s, err := NewSession(m, r.opts)
	if err != nil {
		return nil, err
	}
	r.sessions = append(r.sessions, s)
	r.byName[m.Name] = s
	if r.selected == nil {
		r.selected = s
	}
	return s, nil
}

// BindAll binds every session and returns the first failure.
func (r *Registry) BindAll() error {
	for _, s := range r.List() {
		if err := s.Bind(); err != nil {
			return err
		}
	}
	return nil
}

// Serve runs every accept loop until ctx is cancelled and waits for them all
// to return.
func (r *Registry) Serve(ctx context.Context) error {
	sessions := r.List()
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			errs[i] = s.Serve(ctx)
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Get returns the session called name.
func (r *Registry) Get(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byName[name]
	return s, ok
}

// Select makes the session named key current. A key that is not a name is
// tried as a zero-based index into List.
func (r *Registry) Select(key string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byName[key]; ok {
		r.selected = s
		return s, nil
	}
	if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(r.sessions) {
		r.selected = r.sessions[i]
		return r.selected, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoSession, key)
}

// Selected is the session commands act on, or nil when none was added.
func (r *Registry) Selected() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// SetHook installs h on every session.
func (r *Registry) SetHook(h Hook) {
	for _, s := range r.List() {
		s.SetHook(h)
	}
}

// Statuses reports every session in List order.
func (r *Registry) Statuses() []Status {
	sessions := r.List()
	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	return out
}

// Close closes every session.
func (r *Registry) Close() error {
	var errs []error
	for _, s := range r.List() {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
